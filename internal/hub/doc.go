// Package hub tracks live WebSocket connections and fans events out to them.
//
// Each Connection gets a uuid on Register. Broadcast sends one JSON Event to
// every open connection. A failed send closes that connection and leaves
// the others alone. The heartbeat loop broadcasts a heartbeat event on a
// fixed interval until it is stopped.
//
// # Usage Example
//
//	h := hub.New(hub.Options{})
//	c := h.Register(conn, r.RemoteAddr)
//	go h.RunReceiveLoop(ctx, c)
//	h.StartHeartbeat(hub.DefaultHeartbeatInterval)
//	defer h.Shutdown()
package hub

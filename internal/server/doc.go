// Package server runs the webhost network host.
//
// A Host binds an HTTP listener and, when enabled, an HTTPS listener that
// presents the leaf from the certs package. Every request passes through
// the same gin pipeline:
//
//  1. panic recovery
//  2. request id (X-Request-ID)
//  3. access log and metrics
//  4. protected path check (401 JSON without a login cookie)
//  5. routes: /ws, /diag/* behind the diagnostics whitelist, caller API
//     routes under /api, and embedded front-end assets for everything else
//
// Start, Stop and Restart are serialized by one mutex. Clients connected to
// /ws receive a serverStatus event when the host starts and again, with
// running=false, before it tears its listeners down.
package server

// Package discovery advertises WebHost instances over multicast DNS and
// finds them again from the command line.
//
// A running host registers a "_webhost._tcp" service carrying its version
// and whether the advertised port speaks TLS. Scanner browses for the same
// service type and returns one Instance per responder.
//
// # Usage Example
//
//	ann := discovery.NewAnnouncer()
//	stop, err := ann.Announce("office", 5001, true)
//	if err != nil {
//	    return err
//	}
//	defer stop()
//
//	instances, err := discovery.NewScanner().Scan(ctx)
package discovery

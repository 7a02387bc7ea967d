// Package xsigserver provides the XSIG engine: a TCP server that accepts a connection from a
// Crestron control system, keeps the last known value of every join and queues outbound join
// updates.
//
// Key Features:
//   - Single Connection: a new control-system connection replaces the active one.
//   - Handshake: the engine sends an update request on connect and becomes available once the
//     control system answers with a sync-all marker.
//   - Join Tables: inbound digital, analog and serial values are stored per join and cleared on
//     every connect and disconnect.
//   - Callbacks: subscribers register per join-id, for every join ("*") or for the "system"
//     lifecycle events. Callbacks run concurrently with a bounded wait.
//   - Command Queue: sets are validated, rate limited per join and written in order by a single
//     consumer while the control system is synced.
//   - Resynchronization: malformed bytes are skipped and a fresh update is requested.
//
// Usage Example:
//
//	cfg, _ := xsigserver.NewServerConfig(
//	    xsigserver.WithRateLimit(50, time.Second),
//	    xsigserver.WithDigitalEchoTimeout(time.Second),
//	)
//	srv, err := xsigserver.NewServer(ctx, cfg)
//	// ... handle error ...
//
//	unregister := srv.RegisterCallback(xsig.DigitalID(10), func(ev xsig.Event) error {
//	    fmt.Println("d10 is now", ev.Digital)
//	    return nil
//	})
//	defer unregister()
//
//	err = srv.Start("", xsigserver.DefaultPort)
//	// ... handle error ...
//	defer srv.Stop()
//
//	_ = srv.WaitState(ctx, xsig.SyncedState)
//	err = srv.SetDigital(10, true)
package xsigserver

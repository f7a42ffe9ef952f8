// Package lantern implements the backend for a browser-based observability
// UI over a columnar analytical database with a ClickHouse-compatible HTTP
// interface.
//
// Most of the surface is thin request/response proxying: a SQL console, log
// browsing, dashboard and connection management. The one stateful core is
// the streaming query transcoder, which re-serializes an upstream streaming
// cursor into a newline-delimited JSON frame protocol delivered over a
// chunked HTTP response, under a hard row cap and with backpressure.
//
// # Basic Usage
//
// Start a server against a ClickHouse endpoint:
//
//	cfg := lantern.DefaultConfig()
//	cfg.Upstream.URL = "http://localhost:8123"
//	srv, err := lantern.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(srv.ListenAndServe())
//
// Stream a query directly:
//
//	client := lantern.NewClickHouseClient(cfg.Upstream)
//	src, err := client.OpenStream(ctx, "SELECT * FROM system.numbers", lantern.QueryOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//	tc := lantern.NewTranscoder(lantern.DefaultTranscoderConfig())
//	err = tc.Run(ctx, src, sink)
//
// The frame protocol is one JSON object per line: exactly one "meta" frame
// carrying column names and types, zero or more "data" frames in upstream
// row order, a "progress" heartbeat every thousand rows, and a single
// terminal "done" or "error" frame.
package lantern

// Package pipeline is the transport-facing entry point for batch conversion.
//
// A Service ties together ingestion (archive extraction and format detection),
// encrypted per-session state, the batch registry, the conversion engine,
// result packaging and statistics. Transports such as the HTTP API or the CLI
// call Service methods with a session ID and render the returned views; they
// never reach into the registry or temp storage directly.
//
// Every error path releases the temp files it created before returning, and
// admission into a batch is all-or-nothing.
package pipeline

// Package main hosts the imgshift CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon (serve), converts local files in
// process through the same pipeline the daemon uses (convert), and offers
// inspection helpers (detect, formats, stats, doctor) plus configuration
// scaffolding. Configuration resolution, .env loading and logger setup live
// in commandContext so subcommands stay declarative.
package main

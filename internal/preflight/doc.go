// Package preflight provides readiness checks for the filesystem paths and
// settings the daemon depends on.
//
// The daemon runs RunAll at startup and refuses to serve when a required
// check fails. The CLI "imgshift doctor" command prints the same results.
package preflight

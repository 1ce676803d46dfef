// Package daemon hosts the long-running conversion service.
//
// A Daemon holds the single-instance lock, serves the HTTP API, restores and
// periodically persists statistics, and runs the housekeeping sweeper that
// expires idle batches, stale sessions and unclaimed downloads. Stop reverses
// all of it and releases every temp file the process still owns.
package daemon

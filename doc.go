// Package ltx implements the Linux Test Executor: a single-threaded,
// readiness-driven process that reads a MessagePack-framed command
// stream on stdin, spawns and supervises child test programs, and
// multiplexes their output and exit status back to the caller over
// stdout. See cmd/ltx-exec for the CLI entrypoint.
package ltx

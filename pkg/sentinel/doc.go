// Package sentinel is the dispatcher: it owns the worker roster and the
// in-flight job table in memory (the catalog remains the canonical
// record), runs the single-threaded dispatch loop described in spec
// section 4.5, and is the only writer of wire frames to a connected
// worker. See dispatch.go for the loop; connection.go for per-worker
// framing.
package sentinel

// Package health implements liveness probing of worker processes.
// Sentinel dials a worker's declared loopback endpoint over TCP once,
// during the Identify handshake, before admitting it to the roster; it
// does not probe the worker again afterwards. Status tracks consecutive
// failures against a Config's Retries threshold before flipping Healthy;
// the sentinel does not use Status.
package health

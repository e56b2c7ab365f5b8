// Package workerrt is the worker half of Casparian Flow: it holds a
// single wire connection to a Sentinel, executes at most one job at a
// time end to end (environment check, child spawn, batch streaming,
// validation gate, lineage stamping, sink commit), and reports the
// outcome back via Conclude or Err. See runtime.go for the connection
// loop and job.go for the per-job pipeline.
package workerrt

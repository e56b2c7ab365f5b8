// Package metrics defines and registers Casparian Flow's Prometheus
// metrics: scout, sentinel, worker, and sink instruments, exposed over
// HTTP via Handler. Collector republishes catalog-derived gauges (queue
// depth, location counts) on a 15-second poll; everything else is
// updated inline by the component that produces it.
package metrics

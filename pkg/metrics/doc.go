/*
Package metrics defines and registers the node's Prometheus metrics:
job throughput, VFS search latency, tool subprocess behavior, identity
cache hit rate, transport queue depth, and subscription sync duration.

All metrics are package-level variables registered in init(). Use the
Timer helper to time an operation and observe it onto a histogram:

	timer := metrics.NewTimer()
	runIteration()
	timer.ObserveDurationVec(metrics.JobIterationDuration, "qa")

Handler() returns the promhttp handler for mounting at /metrics.
*/
package metrics

/*
Package jobmanager runs a node's multi-step LLM jobs.

Each Job has a persistent FIFO of unprocessed messages and a step
history. A background scheduler loop pulls ready jobs, pops the head
message, and routes it to one of three inference chains (QA, image, or
tool execution) based on what the message carries. A chain may recurse
up to the job's configured iteration budget before appending its final
step and going idle again.

At most one task runs per job at a time: Manager tracks in-flight jobs
in memory and claims a job id with an atomic compare-and-swap before
starting work on it, so a message submitted while a job is already
running just waits in the FIFO for the next scheduler tick rather than
racing a second goroutine over the same job.
*/
package jobmanager

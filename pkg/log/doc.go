/*
Package log wraps zerolog with the node's component-scoped child loggers.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	jobLog := log.WithJobID(job.ID)
	jobLog.Info().Str("chain", "qa").Msg("iteration started")

Init must run before any other package logs; until then Logger is the
zero-value zerolog.Logger, which has no writer and drops every event.
*/
package log

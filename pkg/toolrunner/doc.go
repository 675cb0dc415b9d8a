/*
Package toolrunner executes a Tool as an OS subprocess: inputs go in
as one JSON document on stdin, output comes back as one JSON document
on stdout, and stderr is captured as logs.

	result, err := runner.Run(ctx, tool, inputs, env, mounts, 60*time.Second)

The runner only exposes the tool's declared config keys plus a fixed
set of environment variables to the subprocess; mounts
are an explicit whitelist of host paths, symlinked in as given. The
runner does not enforce read-only access on any mount (Mount.Writable
is not consulted). A global semaphore bounds concurrent subprocesses.
On timeout the subprocess is sent SIGTERM, then SIGKILL after a grace
window if it hasn't exited.
*/
package toolrunner

/*
Package types defines the domain model shared across the node: identities
and their key material, the message envelope, jobs, vector resources,
filesystem paths and permissions, tools, subscriptions, and the two
distinguished queues (job work queue, retry queue).

All enums are typed strings so they serialize to readable JSON and can be
validated by the caller. Some optional fields use pointers, where nil
means "not set"; optional strings and times instead use their zero
value (an empty string, a zero time.Time) for "not set", as each
field's comment says. Mutation of any of these types must be
synchronized by the caller — pkg/storage serializes writes per entity,
but in-memory copies (e.g. a Job handed to a running chain) are not
safe for concurrent mutation without the owning package's lock.

See pkg/storage for how these are persisted, pkg/codec for how the
Envelope is serialized on the wire, and pkg/vfs for how VectorResource
and FSPath compose into the filesystem.
*/
package types

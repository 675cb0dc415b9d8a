/*
Package storage is the node's BoltDB-backed persistence layer.

Profile-scoped entities (jobs, tools, subscriptions, VFS vector
resources, shared folder manifests) live under a nested
profiles/<profile>/<kind> bucket; the identity cache, outbound retry
queue, and per-inbox history are node-wide. All values are JSON.

Store.Batch opens one write transaction spanning multiple buckets for
callers that need an atomic cross-entity commit, since every other
Store method opens and commits its own single-bucket transaction.
*/
package storage

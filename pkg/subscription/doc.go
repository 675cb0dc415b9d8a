/*
Package subscription syncs shared folders between nodes.

A provider advertises a SharedFolderInfo manifest: a tree of paths with
a content hash per file and, optionally, a pre-signed HTTP link a
subscriber can fetch it from directly instead of going over the P2P
transport. A subscriber periodically pulls the manifest, diffs it
against the hashes it has already synced, and fetches whatever
changed. A file is only considered synced once its locally computed
hash matches the manifest's; a fetch that doesn't match is discarded
rather than imported, so a partial or corrupted download never
contaminates local state.

Manifest and file retrieval are both collaborator interfaces
(ManifestFetcher, FileFetcher) so this package doesn't import the P2P
transport or an HTTP client directly — the Controller wires concrete
implementations that dial out over whichever transport a given link
calls for.
*/
package subscription

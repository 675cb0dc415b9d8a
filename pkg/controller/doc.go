/*
Package controller wires every other package into one running node and
fans the API command surface (job lifecycle, VFS, tools, identity,
subscriptions) out to the right component.

Controller owns construction and shutdown order for its subsystems: it
never exposes the raw collaborators (transport, store, resolver) to a
caller, only its command methods. Per-profile state (a VFS tree, a Job
Manager, a Subscription Manager) is created lazily on first use and torn
down together on Shutdown.

Concrete LLM-provider HTTP adapters, the embedding model, and the
identity registry client are external collaborators — Controller only
consumes the jobmanager.LLMProvider, vfs.Embedder, and
identity.RegistryClient interfaces a caller supplies through Config.
*/
package controller

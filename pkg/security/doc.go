/*
Package security encrypts tool-config secrets at rest using AES-256-GCM.

A SecretsManager holds a 32-byte node encryption key (derived from the
node's identity via DeriveKeyFromNodeID, or from an operator password)
and seals/opens the Secret-flagged entries of a types.Tool's Config map
before pkg/storage persists them. Agent-to-agent message sealing lives
in pkg/crypto; this package only protects locally-stored tool config.
*/
package security

package storage

import (
	"fmt"
	"time"

	"github.com/cuemby/agentnode/pkg/types"
)

// StoreErrorKind enumerates the Persistence layer's error taxonomy.
type StoreErrorKind string

const (
	ErrIO       StoreErrorKind = "io"
	ErrCorrupt  StoreErrorKind = "corrupt"
	ErrConflict StoreErrorKind = "conflict"
	ErrNotFound StoreErrorKind = "not_found"
)

// StoreError wraps a Persistence failure with the operation and kind
// that caused it.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("storage: %s: %s", e.Op, e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }

func notFound(op string, err error) error {
	return &StoreError{Kind: ErrNotFound, Op: op, Err: err}
}

func ioErr(op string, err error) error {
	return &StoreError{Kind: ErrIO, Op: op, Err: err}
}

func corrupt(op string, err error) error {
	return &StoreError{Kind: ErrCorrupt, Op: op, Err: err}
}

// Store is the node's persistence layer: profile-scoped entity storage
// (jobs, tools, subscriptions, VFS resources, shared folder manifests),
// the node-wide identity cache, and the outbound retry and per-job
// message queues. Batch opens one transaction spanning multiple
// buckets for callers that need an atomic cross-entity write (for
// example: dequeue a job message and append the resulting step in the
// same commit).
type Store interface {
	// Jobs
	PutJob(profile string, job *types.Job) error
	GetJob(profile, jobID string) (*types.Job, error)
	ListJobs(profile string) ([]*types.Job, error)
	DeleteJob(profile, jobID string) error

	// Tools
	PutTool(profile string, tool *types.Tool) error
	GetTool(profile, key string) (*types.Tool, error)
	ListTools(profile string) ([]*types.Tool, error)
	DeleteTool(profile, key string) error

	// Subscriptions
	PutSubscription(profile string, sub *types.Subscription) error
	GetSubscription(profile, subscriberIdentity, sharedFolderPath string) (*types.Subscription, error)
	ListSubscriptions(profile string) ([]*types.Subscription, error)
	DeleteSubscription(profile, subscriberIdentity, sharedFolderPath string) error

	// Identity cache (node-wide, not profile-scoped)
	PutCachedIdentity(ri *types.ResolvedIdentity) error
	GetCachedIdentity(name string) (*types.ResolvedIdentity, error)
	DeleteCachedIdentity(name string) error

	// Vector filesystem resources, keyed by their VFS path
	PutVectorResource(profile string, path types.FSPath, vr *types.VectorResource) error
	GetVectorResource(profile string, path types.FSPath) (*types.VectorResource, error)
	ListVectorResources(profile string) (map[string]*types.VectorResource, error)
	DeleteVectorResource(profile string, path types.FSPath) error

	// Shared folder manifests this node advertises as a provider
	PutSharedFolder(profile string, info *types.SharedFolderInfo) error
	GetSharedFolder(profile, path string) (*types.SharedFolderInfo, error)
	ListSharedFolders(profile string) ([]*types.SharedFolderInfo, error)
	DeleteSharedFolder(profile, path string) error

	// Per-job persistent FIFO
	EnqueueJobMessage(profile string, entry *types.JobQueueEntry) error
	ListJobQueue(profile, jobID string) ([]*types.JobQueueEntry, error)
	DeleteJobQueueEntry(profile, jobID, messageHash string) error

	// Outbound retry queue (node-wide; not profile-scoped since transport
	// operates beneath any one profile)
	EnqueueRetry(entry *types.RetryQueueEntry) error
	ListDueRetries(before time.Time) ([]*types.RetryQueueEntry, error)
	DeleteRetryEntry(id string) error

	// Inbox history, used for delivery dedup and conversation replay
	PutInboxMessage(inbox, hash string, env *types.Envelope) error
	HasInboxMessage(inbox, hash string) (bool, error)
	ListInbox(inbox string) ([]*types.Envelope, error)

	// Batch runs fn inside one atomic cross-bucket write transaction.
	Batch(fn func(b *Batch) error) error

	Close() error
}

package types

import (
	"crypto/ed25519"
	"encoding/json"
	"time"
)

// Identity is a structured, up-to-four-level name:
// @@node/profile/type/name. Profile, SubidentityType and SubidentityName
// are optional; an empty string means that level is absent.
type Identity struct {
	Node            string `json:"node"`
	Profile         string `json:"profile,omitempty"`
	SubidentityType string `json:"subidentity_type,omitempty"`
	SubidentityName string `json:"subidentity_name,omitempty"`
}

const (
	SubidentityTypeDevice = "device"
	SubidentityTypeAgent  = "agent"
)

// String renders the identity in its canonical @@node/profile/type/name form.
func (id Identity) String() string {
	s := "@@" + id.Node
	if id.Profile != "" {
		s += "/" + id.Profile
	}
	if id.SubidentityType != "" {
		s += "/" + id.SubidentityType
	}
	if id.SubidentityName != "" {
		s += "/" + id.SubidentityName
	}
	return s
}

// KeyMaterial is the Ed25519 signing pair and X25519 encryption pair for
// one identity. Private halves are nil for a remote identity resolved
// from the registry; they are populated only for identities this node
// holds locally.
type KeyMaterial struct {
	SigningPublicKey     ed25519.PublicKey  `json:"signing_public_key"`
	SigningPrivateKey    ed25519.PrivateKey `json:"signing_private_key,omitempty"`
	EncryptionPublicKey  []byte             `json:"encryption_public_key"`
	EncryptionPrivateKey []byte             `json:"encryption_private_key,omitempty"`
}

// ResolvedIdentity is what the Identity Resolver hands back for a name.
type ResolvedIdentity struct {
	Name                string            `json:"name"`
	SigningPublicKey    ed25519.PublicKey `json:"signing_public_key"`
	EncryptionPublicKey []byte            `json:"encryption_public_key"`
	Routing             string            `json:"routing"`
	Endpoints           []string          `json:"endpoints"`
	NFTID               string            `json:"nft_id,omitempty"`
	Staked              bool              `json:"staked"`
	ResolvedAt          time.Time         `json:"resolved_at"`
}

// EncryptionMethod is the wire literal for an envelope's encryption scheme.
type EncryptionMethod string

const (
	EncryptionMethodNone     EncryptionMethod = "None"
	EncryptionMethodX25519CC EncryptionMethod = "DiffieHellmanChaChaPoly1305"
)

// ExternalMetadata travels in the clear alongside every envelope.
type ExternalMetadata struct {
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	ScheduledTime string `json:"scheduled_time"` // RFC3339 UTC
	Signature     string `json:"signature"`
	IntraSender   string `json:"intra_sender,omitempty"`
	Other         string `json:"other,omitempty"`
}

// InternalMetadata is only observable once the envelope body is decrypted.
type InternalMetadata struct {
	SenderSubidentity    string           `json:"sender_subidentity,omitempty"`
	RecipientSubidentity string           `json:"recipient_subidentity,omitempty"`
	Inbox                string           `json:"inbox"`
	Signature            string           `json:"signature"`
	EncryptionMethod     EncryptionMethod `json:"encryption_method"`
	NodeAPIData          *NodeAPIData     `json:"node_api_data,omitempty"`
}

// NodeAPIData chains an envelope to its predecessor in an inbox.
type NodeAPIData struct {
	ParentHash      string `json:"parent_hash"`
	NodeMessageHash string `json:"node_message_hash"`
	NodeTimestamp   string `json:"node_timestamp"`
}

// EncryptedContent is a base64-encoded nonce‖ciphertext‖tag blob.
type EncryptedContent struct {
	Content string `json:"content"`
}

// UnencryptedMessageData is the plaintext variant of a message's data.
type UnencryptedMessageData struct {
	MessageRawContent    string `json:"message_raw_content"`
	MessageContentSchema string `json:"message_content_schema"`
}

// MessageDataBody is a discriminated union: exactly one field is set.
type MessageDataBody struct {
	Encrypted   *EncryptedContent       `json:"encrypted,omitempty"`
	Unencrypted *UnencryptedMessageData `json:"unencrypted,omitempty"`
}

// UnencryptedBody is the plaintext variant of an envelope's body.
type UnencryptedBody struct {
	MessageData      MessageDataBody  `json:"message_data"`
	InternalMetadata InternalMetadata `json:"internal_metadata"`
}

// MessageBody is a discriminated union: exactly one field is set. When
// Encrypted is set, InternalMetadata is not observable externally.
type MessageBody struct {
	Encrypted   *EncryptedContent `json:"encrypted,omitempty"`
	Unencrypted *UnencryptedBody  `json:"unencrypted,omitempty"`
}

// Envelope is the top-level on-wire message object.
type Envelope struct {
	Body             MessageBody      `json:"body"`
	ExternalMetadata ExternalMetadata `json:"external_metadata"`
	EncryptionMethod EncryptionMethod `json:"encryption_method"`
	Version          string           `json:"version"`
}

// JobStatus is a job's coarse lifecycle state.
type JobStatus string

const (
	JobStatusIdle     JobStatus = "idle"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// LocalScopeEntry is a job-private resource, never written to the shared VFS.
type LocalScopeEntry struct {
	Name           string            `json:"name"`
	SourceFileMap  map[string]string `json:"source_file_map,omitempty"`
	VectorResource *VectorResource   `json:"vector_resource"`
}

// DBScopeEntry references an already-persisted, profile-shared VFS path.
type DBScopeEntry struct {
	Path string `json:"path"`
}

// JobScope is the set of resources a job may read: resources attached
// only for this job's lifetime (Local) plus paths into the shared VFS
// (Database).
type JobScope struct {
	Local    []LocalScopeEntry `json:"local"`
	Database []DBScopeEntry    `json:"database"`
}

// JobConfig holds sampling parameters and per-job behavior flags.
type JobConfig struct {
	Stream        bool     `json:"stream"`
	Seed          *int64   `json:"seed,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxIterations int      `json:"max_iterations"`
}

// JobMessage is one entry in a job's FIFO.
type JobMessage struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// JobStep is one prompt/response pair appended to a job's history.
type JobStep struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Chain     string    `json:"chain"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is a unit of multi-step LLM work executed by the Job Manager.
type Job struct {
	ID                  string       `json:"id"`
	ParentAgentID       string       `json:"parent_agent_id"`
	Scope               JobScope     `json:"scope"`
	ConversationInbox   string       `json:"conversation_inbox"`
	StepHistory         []JobStep    `json:"step_history"`
	UnprocessedMessages []JobMessage `json:"unprocessed_messages"`
	IsFinished          bool         `json:"is_finished"`
	Config              JobConfig    `json:"config"`
	Status              JobStatus    `json:"status"`
	DatetimeCreated     time.Time    `json:"datetime_created"`
}

// VRNode is one leaf or folder node of a VectorResource.
type VRNode struct {
	ID        string            `json:"id"`
	Text      string            `json:"text,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// VectorResource is a rooted tree of nodes; leaves carry text and an
// embedding of fixed dimension.
type VectorResource struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Nodes              []VRNode            `json:"nodes"`
	SourceFileMap      map[string]string   `json:"source_file_map,omitempty"`
	DataTagIndex       map[string][]string `json:"data_tag_index,omitempty"`
	MetadataIndex      map[string]string   `json:"metadata_index,omitempty"`
	EmbeddingDimension int                 `json:"embedding_dimension"`
}

// FSPath is an ordered, rooted sequence of path components.
type FSPath []string

func (p FSPath) String() string {
	s := "/"
	for i, c := range p {
		if i > 0 {
			s += "/"
		}
		s += c
	}
	return s
}

// Parent returns the path one level up, or nil at the root.
func (p FSPath) Parent() FSPath {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// PermissionLevel is a total order: Admin implies Write implies Read.
type PermissionLevel int

const (
	PermissionNone  PermissionLevel = 0
	PermissionRead  PermissionLevel = 1
	PermissionWrite PermissionLevel = 2
	PermissionAdmin PermissionLevel = 3
)

// PermissionVisibility selects how a PermissionEntry's whitelist is interpreted.
type PermissionVisibility string

const (
	VisibilityPrivate   PermissionVisibility = "private"
	VisibilityPublic    PermissionVisibility = "public"
	VisibilityWhitelist PermissionVisibility = "whitelist"
)

// PermissionEntry is attached to a FS path. Resolution walks up the tree
// from the target path; the closest explicit entry wins.
type PermissionEntry struct {
	Visibility PermissionVisibility       `json:"visibility"`
	Whitelist  map[string]PermissionLevel `json:"whitelist,omitempty"`
}

// ToolKind selects the interpreter the Tool Runner spawns.
type ToolKind string

const (
	ToolKindNative ToolKind = "native"
	ToolKindScript ToolKind = "script"
	ToolKindRemote ToolKind = "remote"
	ToolKindMCP    ToolKind = "mcp"
)

// ToolConfigValue is one declared config entry for a tool; Secret values
// are encrypted at rest by pkg/security.
type ToolConfigValue struct {
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

// Tool is a declared external capability run via the Tool Runner.
type Tool struct {
	Key          string                     `json:"key"` // "{author}:::{name}"
	Author       string                     `json:"author"`
	Name         string                     `json:"name"`
	Kind         ToolKind                   `json:"kind"`
	InputSchema  json.RawMessage            `json:"input_schema"`
	OutputSchema json.RawMessage            `json:"output_schema"`
	Config       map[string]ToolConfigValue `json:"config,omitempty"`
	Embedding    []float32                  `json:"embedding,omitempty"`
	Enabled      bool                       `json:"enabled"`
	MCPEnabled   bool                       `json:"mcp_enabled"`
}

// ToolKey builds the "{author}:::{name}" key convention.
func ToolKey(author, name string) string {
	return author + ":::" + name
}

// SubscriptionState is the subscriber-side sync lifecycle.
type SubscriptionState string

const (
	SubscriptionNotStarted      SubscriptionState = "not_started"
	SubscriptionSyncing         SubscriptionState = "syncing"
	SubscriptionWaitingForLinks SubscriptionState = "waiting_for_links"
	SubscriptionReady           SubscriptionState = "ready"
)

// SubscriptionFileState tracks one file of a subscribed folder.
type SubscriptionFileState struct {
	Hash       string    `json:"hash"`
	Link       string    `json:"link,omitempty"`
	Expiration time.Time `json:"expiration,omitempty"`
}

// Subscription is a subscriber's relationship to one shared folder.
type Subscription struct {
	SubscriberIdentity string                           `json:"subscriber_identity"`
	SharedFolderPath   string                           `json:"shared_folder_path"`
	PaymentTerms       map[string]string                `json:"payment_terms,omitempty"`
	State              SubscriptionState                `json:"state"`
	Files              map[string]SubscriptionFileState `json:"files"`
}

// FSEntryTree is a recursive manifest of one shared folder's contents.
// A leaf (no Children) may carry a pre-signed HTTP link as an
// alternative to fetching it over the P2P transport; LinkExpiration is
// zero when the manifest doesn't publish one.
type FSEntryTree struct {
	Name           string        `json:"name"`
	Path           string        `json:"path"`
	Hash           string        `json:"hash,omitempty"`
	LastModified   time.Time     `json:"last_modified"`
	Link           string        `json:"link,omitempty"`
	LinkExpiration time.Time     `json:"link_expiration,omitempty"`
	Children       []FSEntryTree `json:"children,omitempty"`
}

// SharedFolderInfo is the manifest a provider advertises for one shared folder.
type SharedFolderInfo struct {
	Path                    string            `json:"path"`
	Permission              PermissionLevel   `json:"permission"`
	Profile                 string            `json:"profile"`
	Tree                    FSEntryTree       `json:"tree"`
	PaymentTerms            map[string]string `json:"payment_terms,omitempty"`
	SubscriptionRequirement string            `json:"subscription_requirement,omitempty"`
}

// JobQueueEntry is one item on the persistent per-job FIFO.
type JobQueueEntry struct {
	JobID       string     `json:"job_id"`
	MessageHash string     `json:"message_hash"`
	Message     JobMessage `json:"message"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
}

// RetryQueueEntry is one outbound envelope awaiting redelivery.
type RetryQueueEntry struct {
	ID         string    `json:"id"`
	TargetPeer string    `json:"target_peer"`
	Envelope   Envelope  `json:"envelope"`
	Attempt    int       `json:"attempt"`
	DueAt      time.Time `json:"due_at"`
}

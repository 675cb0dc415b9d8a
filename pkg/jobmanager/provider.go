package jobmanager

import (
	"context"
	"encoding/json"

	"github.com/cuemby/agentnode/pkg/types"
)

// LLMProvider is the model backend a chain drives. The Job Manager
// never talks to a specific vendor SDK directly; the Controller wires
// a concrete provider in at construction time.
type LLMProvider interface {
	MaxInputTokens() int
	CountTokens(text string) int
	SupportsVision() bool
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (CompletionResult, error)
}

// CompletionOptions carries the sampling parameters pulled from a
// job's JobConfig plus optional image bytes for vision chains.
type CompletionOptions struct {
	Seed        *int64
	Temperature *float64
	ImageBytes  []byte
}

// CompletionResult is one model response. ToolCall is non-nil when the
// model chose to invoke a tool instead of answering directly.
type CompletionResult struct {
	Text     string
	ToolCall *ToolCallSuggestion
}

// ToolCallSuggestion is a model-proposed tool invocation awaiting
// schema validation before it reaches the Tool Runner.
type ToolCallSuggestion struct {
	ToolKey string
	Input   json.RawMessage
}

// ScopeHit is one vector search result pulled from a job's scope,
// carrying enough breadcrumb to cite its source in a prompt.
type ScopeHit struct {
	Path  string
	Score float64
	Text  string
}

// ScopeSearcher resolves a job's scope (local, job-private resources
// plus paths into the shared VFS) into ranked hits for a query
// embedding. Decoupling this from *vfs.VFS lets the Job Manager score
// job-local resources, which never enter the shared VFS tree, with the
// same interface the Controller uses to bridge into VFS-backed paths.
type ScopeSearcher interface {
	Search(ctx context.Context, profile, requester string, scope types.JobScope, query []float32, k int) ([]ScopeHit, error)
}

// Embedder produces a query embedding for chain input text. The
// Controller wires the same embedding model the VFS uses so scores
// from local and database scope entries are comparable.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

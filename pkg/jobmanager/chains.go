package jobmanager

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cuemby/agentnode/pkg/types"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultSearchK is how many scope hits a QA chain pulls before
// packing them into the prompt, when the job doesn't say otherwise.
const DefaultSearchK = 8

// responseReserveFraction is the share of a model's input budget held
// back for its own response rather than spent on packed context.
const responseReserveFraction = 0.2

// qaPrompt runs the retrieval-augmented chain: embed the message,
// search the job's scope, pack the top hits under the token budget
// left after reserving room for the response, and combine that with
// the conversation so far into one prompt.
func (m *Manager) qaPrompt(ctx context.Context, job *types.Job, message string) (string, error) {
	queryEmbedding, err := m.embed.Embed(message)
	if err != nil {
		return "", newError(job.ID, ErrProviderError, fmt.Errorf("embed query: %w", err))
	}

	hits, err := m.scope.Search(ctx, m.profile, m.requester, job.Scope, queryEmbedding, DefaultSearchK)
	if err != nil {
		return "", newError(job.ID, ErrProviderError, fmt.Errorf("search scope: %w", err))
	}

	budget := m.provider.MaxInputTokens() - ceilScaled(m.provider.MaxInputTokens(), responseReserveFraction)

	var packed strings.Builder
	for _, h := range hits {
		candidate := fmt.Sprintf("[%s]\n%s\n\n", h.Path, h.Text)
		if m.provider.CountTokens(packed.String()+candidate) > budget {
			break
		}
		packed.WriteString(candidate)
	}

	return buildStepHistoryPrompt(job, packed.String(), message), nil
}

// imagePrompt builds a single-iteration vision prompt. attachment is
// expected to be base64-encoded image data, optionally wrapped in a
// data: URI, the way a caller would embed it inline in a job message.
func imagePrompt(job *types.Job, message, attachment string) (prompt string, imageBytes []byte, err error) {
	imageBytes, err = decodeImageAttachment(attachment)
	if err != nil {
		return "", nil, newError(job.ID, ErrSchemaViolation, fmt.Errorf("decode image attachment: %w", err))
	}
	return buildStepHistoryPrompt(job, "", message), imageBytes, nil
}

func decodeImageAttachment(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

// buildStepHistoryPrompt lays the packed context, then prior
// prompt/response steps, then the new message, the way a running
// transcript accumulates turn by turn.
func buildStepHistoryPrompt(job *types.Job, packedContext, message string) string {
	var b strings.Builder
	if packedContext != "" {
		b.WriteString("Relevant context:\n")
		b.WriteString(packedContext)
		b.WriteString("\n")
	}
	for _, step := range job.StepHistory {
		b.WriteString("User: ")
		b.WriteString(step.Prompt)
		b.WriteString("\nAssistant: ")
		b.WriteString(step.Response)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(message)
	return b.String()
}

// runToolCall validates a model-proposed tool call against its
// declared input schema, invokes the Tool Runner, and returns the
// tool's JSON output as a sub-prompt for the next iteration.
func (m *Manager) runToolCall(ctx context.Context, job *types.Job, call *ToolCallSuggestion) (string, error) {
	tool, err := m.store.GetTool(m.profile, call.ToolKey)
	if err != nil {
		return "", newError(job.ID, ErrSchemaViolation, fmt.Errorf("unknown tool %q: %w", call.ToolKey, err))
	}
	if !tool.Enabled {
		return "", newError(job.ID, ErrSchemaViolation, fmt.Errorf("tool %q is disabled", call.ToolKey))
	}

	if len(tool.InputSchema) > 0 {
		schemaLoader := gojsonschema.NewBytesLoader(tool.InputSchema)
		docLoader := gojsonschema.NewBytesLoader(call.Input)
		result, err := gojsonschema.Validate(schemaLoader, docLoader)
		if err != nil {
			return "", newError(job.ID, ErrSchemaViolation, fmt.Errorf("validate tool input: %w", err))
		}
		if !result.Valid() {
			return "", newError(job.ID, ErrSchemaViolation, fmt.Errorf("tool input violates schema: %v", result.Errors()))
		}
	}

	result, err := m.runner.Run(ctx, tool, call.Input, nil, nil, 0)
	if err != nil {
		if ctx.Err() != nil {
			return "", newError(job.ID, ErrCancelled, err)
		}
		return "", newError(job.ID, ErrProviderError, fmt.Errorf("run tool %q: %w", call.ToolKey, err))
	}

	return fmt.Sprintf("Tool %q returned: %s", call.ToolKey, string(result.Output)), nil
}

package jobmanager

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/events"
	"github.com/cuemby/agentnode/pkg/log"
	"github.com/cuemby/agentnode/pkg/metrics"
	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/toolrunner"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultMaxIterations bounds a chain's step count when a job doesn't
// configure its own.
const DefaultMaxIterations = 10

// schedulerInterval is how often the scheduler loop checks for ready
// jobs.
const schedulerInterval = time.Second

// Manager runs a profile's jobs: a scheduler loop claims ready jobs
// one at a time and drives their inference chains.
type Manager struct {
	store     storage.Store
	profile   string
	requester string

	runner   *toolrunner.Runner
	provider LLMProvider
	scope    ScopeSearcher
	embed    Embedder
	broker   *events.Broker

	logger zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	cancels  map[string]context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager constructs a Manager for one profile. requester is the
// identity used when resolving scope search permissions (normally the
// profile's own device identity).
func NewManager(store storage.Store, profile, requester string, runner *toolrunner.Runner, provider LLMProvider, scope ScopeSearcher, embed Embedder, broker *events.Broker) *Manager {
	return &Manager{
		store:     store,
		profile:   profile,
		requester: requester,
		runner:    runner,
		provider:  provider,
		scope:     scope,
		embed:     embed,
		broker:    broker,
		logger:    log.WithComponent("jobmanager"),
		inFlight:  make(map[string]bool),
		cancels:   make(map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (m *Manager) Start() { go m.run() }

// Stop halts the scheduler loop. Safe to call more than once. It does
// not wait for in-flight jobs to finish; callers that need that should
// poll Status.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Submit appends message to job's persistent FIFO, idempotent on an
// identical message hash so redelivered envelopes don't double-queue.
func (m *Manager) Submit(jobID string, message types.JobMessage) error {
	if message.Hash == "" {
		sum := crypto.Hash([]byte(message.Content))
		message.Hash = hex.EncodeToString(sum[:])
	}

	existing, err := m.store.ListJobQueue(m.profile, jobID)
	if err != nil {
		return newError(jobID, ErrProviderError, err)
	}
	for _, e := range existing {
		if e.MessageHash == message.Hash {
			return nil
		}
	}
	entry := &types.JobQueueEntry{
		JobID:       jobID,
		MessageHash: message.Hash,
		Message:     message,
		EnqueuedAt:  time.Now(),
	}
	if err := m.store.EnqueueJobMessage(m.profile, entry); err != nil {
		return newError(jobID, ErrProviderError, err)
	}
	metrics.JobQueueDepth.WithLabelValues(jobID).Inc()
	return nil
}

// StopJob cooperatively cancels a running job's current iteration. If
// the job isn't running this is a no-op.
func (m *Manager) StopJob(jobID string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Status reports a job's coarse lifecycle state.
func (m *Manager) Status(jobID string) (types.JobStatus, error) {
	job, err := m.store.GetJob(m.profile, jobID)
	if err != nil {
		return "", newError(jobID, ErrProviderError, err)
	}
	return job.Status, nil
}

func (m *Manager) claim(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[jobID] {
		return false
	}
	m.inFlight[jobID] = true
	return true
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	delete(m.inFlight, jobID)
	delete(m.cancels, jobID)
	m.mu.Unlock()
}

// run is the scheduler loop: ticker/select/stopCh, matching how the
// rest of this node's background loops are shaped.
func (m *Manager) run() {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.scheduleTick(); err != nil {
				m.logger.Error().Err(err).Msg("scheduling tick failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// scheduleTick claims and starts one task per ready job with a
// non-empty queue that isn't already running.
func (m *Manager) scheduleTick() error {
	jobs, err := m.store.ListJobs(m.profile)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	for _, job := range jobs {
		if job.IsFinished {
			continue
		}
		queue, err := m.store.ListJobQueue(m.profile, job.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("list job queue failed")
			continue
		}
		metrics.JobQueueDepth.WithLabelValues(job.ID).Set(float64(len(queue)))
		if len(queue) == 0 {
			continue
		}
		if !m.claim(job.ID) {
			continue
		}
		go m.processJob(job, queue[0])
	}
	return nil
}

// processJob drives one message through the appropriate inference
// chain, then persists the resulting step and job state.
func (m *Manager) processJob(job *types.Job, entry *types.JobQueueEntry) {
	defer m.release(job.ID)

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()
	defer cancel()

	job.Status = types.JobStatusRunning
	if err := m.store.PutJob(m.profile, job); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist running status failed")
	}

	step, chainErr := m.runChain(ctx, job, entry.Message)

	if chainErr != nil {
		job.Status = types.JobStatusFailed
		cause := "provider_error"
		if jobErr, ok := chainErr.(*JobError); ok {
			cause = string(jobErr.Kind)
		}
		metrics.JobsFailedTotal.WithLabelValues(cause).Inc()
		step.Error = chainErr.Error()
		m.logger.Error().Err(chainErr).Str("job_id", job.ID).Msg("chain execution failed")
	} else {
		job.Status = types.JobStatusIdle
	}
	job.StepHistory = append(job.StepHistory, step)

	// Dequeue the processed message and persist the resulting step in
	// one commit so a crash between the two can't either replay an
	// already-answered message or lose the step that answered it.
	err := m.store.Batch(func(b *storage.Batch) error {
		if err := b.DeleteJobQueueEntry(m.profile, job.ID, entry.MessageHash); err != nil {
			return err
		}
		return b.PutJob(m.profile, job)
	})
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("commit job step failed")
	}

	if m.broker != nil {
		m.broker.Publish(fmt.Sprintf("job:%s:step", job.ID), step)
		if job.Config.Stream {
			m.broker.Publish(fmt.Sprintf("inbox:%s", job.ConversationInbox), step)
		}
	}
}

// runChain picks qa, image, or tool_execution for the message and
// drives it to a final step, recursing up to the job's iteration
// budget. A model that keeps calling tools or asking to refine its
// answer consumes one iteration per round trip.
func (m *Manager) runChain(ctx context.Context, job *types.Job, message types.JobMessage) (types.JobStep, error) {
	maxIterations := job.Config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	chain := "qa"
	var opts CompletionOptions
	opts.Seed = job.Config.Seed
	opts.Temperature = job.Config.Temperature

	prompt, err := m.initialPrompt(ctx, job, message, &chain, &opts)
	if err != nil {
		return types.JobStep{Chain: chain, Timestamp: time.Now()}, err
	}

	var lastResponse string
	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			return types.JobStep{Prompt: prompt, Chain: chain, Timestamp: time.Now()},
				newError(job.ID, ErrCancelled, ctx.Err())
		}

		timer := metrics.NewTimer()
		result, err := m.provider.Complete(ctx, prompt, opts)
		timer.ObserveDurationVec(metrics.JobIterationDuration, chain)
		if err != nil {
			if ctx.Err() != nil {
				return types.JobStep{Prompt: prompt, Chain: chain, Timestamp: time.Now()},
					newError(job.ID, ErrCancelled, err)
			}
			return types.JobStep{Prompt: prompt, Chain: chain, Timestamp: time.Now()},
				newError(job.ID, ErrProviderError, err)
		}

		if result.ToolCall == nil {
			return types.JobStep{Prompt: prompt, Response: result.Text, Chain: chain, Timestamp: time.Now()}, nil
		}

		chain = "tool_execution"
		toolOutput, err := m.runToolCall(ctx, job, result.ToolCall)
		if err != nil {
			return types.JobStep{Prompt: prompt, Response: lastResponse, Chain: chain, Timestamp: time.Now()}, err
		}
		lastResponse = result.Text
		prompt = prompt + "\nAssistant: " + result.Text + "\n" + toolOutput
	}

	return types.JobStep{Prompt: prompt, Response: lastResponse, Chain: chain, Timestamp: time.Now()},
		newError(job.ID, ErrRecursionLimit, fmt.Errorf("exceeded %d iterations without a final answer", maxIterations))
}

// initialPrompt routes the message to the image chain when it carries
// an attachment and the provider supports vision, otherwise to the qa
// chain. It also splits an oversized message into token-budgeted
// parts, feeding only the first as the opening prompt; a model that
// needs the rest asks for it through a tool call or follow-up message,
// since a single completion can only consume one prompt at a time.
func (m *Manager) initialPrompt(ctx context.Context, job *types.Job, message types.JobMessage, chain *string, opts *CompletionOptions) (string, error) {
	if len(message.Attachments) > 0 && m.provider.SupportsVision() {
		*chain = "image_analysis"
		prompt, imageBytes, err := imagePrompt(job, message.Content, message.Attachments[0])
		if err != nil {
			return "", err
		}
		opts.ImageBytes = imageBytes
		return prompt, nil
	}

	content := message.Content
	if m.provider.CountTokens(content) > m.provider.MaxInputTokens() {
		split := SplitTextForLLM(content, m.provider.MaxInputTokens(), m.provider.CountTokens)
		content, _, _ = strings.Cut(split, PartSeparator)
	}

	return m.qaPrompt(ctx, job, content)
}

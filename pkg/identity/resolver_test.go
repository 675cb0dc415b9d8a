package identity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/agentnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	calls     atomic.Int32
	responses map[string]*types.ResolvedIdentity
	err       error
	delay     time.Duration
}

func (f *fakeRegistry) Lookup(ctx context.Context, name string) (*types.ResolvedIdentity, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[name], nil
}

func TestResolveCachesHit(t *testing.T) {
	registry := &fakeRegistry{responses: map[string]*types.ResolvedIdentity{
		"@@node.alice": {Name: "@@node.alice", Routing: "direct"},
	}}
	resolver := NewResolver(registry, Config{})

	ri, err := resolver.Resolve(context.Background(), "@@node.alice")
	require.NoError(t, err)
	assert.Equal(t, "direct", ri.Routing)

	ri2, err := resolver.Resolve(context.Background(), "@@node.alice")
	require.NoError(t, err)
	assert.Equal(t, ri, ri2)
	assert.EqualValues(t, 1, registry.calls.Load())
}

func TestResolveNotFoundCachesNegative(t *testing.T) {
	registry := &fakeRegistry{responses: map[string]*types.ResolvedIdentity{}}
	resolver := NewResolver(registry, Config{})

	_, err := resolver.Resolve(context.Background(), "@@node.ghost")
	require.Error(t, err)
	var idErr *Error
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, ErrNotFound, idErr.Kind)

	_, err = resolver.Resolve(context.Background(), "@@node.ghost")
	require.Error(t, err)
	assert.EqualValues(t, 1, registry.calls.Load(), "second lookup should be served from the negative cache")
}

func TestConcurrentMissesCollapseIntoOneFetch(t *testing.T) {
	registry := &fakeRegistry{
		responses: map[string]*types.ResolvedIdentity{"@@node.alice": {Name: "@@node.alice"}},
		delay:     50 * time.Millisecond,
	}
	resolver := NewResolver(registry, Config{})

	const n = 10
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := resolver.Resolve(context.Background(), "@@node.alice")
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}

	assert.EqualValues(t, 1, registry.calls.Load())
}

func TestStaleEntryServedDuringGraceWindow(t *testing.T) {
	registry := &fakeRegistry{responses: map[string]*types.ResolvedIdentity{
		"@@node.alice": {Name: "@@node.alice", Routing: "direct"},
	}}
	resolver := NewResolver(registry, Config{TTL: 10 * time.Millisecond, StaleGracePeriod: time.Second})

	_, err := resolver.Resolve(context.Background(), "@@node.alice")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // expire the TTL but stay in the grace window

	ri, err := resolver.Resolve(context.Background(), "@@node.alice")
	require.NoError(t, err)
	assert.Equal(t, "direct", ri.Routing)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	registry := &fakeRegistry{responses: map[string]*types.ResolvedIdentity{
		"@@node.alice": {Name: "@@node.alice"},
	}}
	resolver := NewResolver(registry, Config{})

	_, err := resolver.Resolve(context.Background(), "@@node.alice")
	require.NoError(t, err)

	resolver.Invalidate("@@node.alice")

	_, err = resolver.Resolve(context.Background(), "@@node.alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, registry.calls.Load())
}

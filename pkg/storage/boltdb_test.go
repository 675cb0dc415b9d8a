package storage

import (
	"testing"
	"time"

	"github.com/cuemby/agentnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobRoundtrip(t *testing.T) {
	store := openTestStore(t)

	job := &types.Job{
		ID:              "job-1",
		ParentAgentID:   "@@node.arbitrum/main/agent/assistant",
		Status:          types.JobStatusIdle,
		DatetimeCreated: time.Now(),
	}

	require.NoError(t, store.PutJob("main", job))

	got, err := store.GetJob("main", "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ParentAgentID, got.ParentAgentID)

	jobs, err := store.ListJobs("main")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, store.DeleteJob("main", "job-1"))
	_, err = store.GetJob("main", "job-1")
	assert.Error(t, err)
	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
	assert.Equal(t, ErrNotFound, storeErr.Kind)
}

func TestJobsAreIsolatedByProfile(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.PutJob("alice", &types.Job{ID: "job-1"}))
	require.NoError(t, store.PutJob("bob", &types.Job{ID: "job-1"}))

	_, err := store.GetJob("alice", "job-1")
	require.NoError(t, err)

	aliceJobs, err := store.ListJobs("alice")
	require.NoError(t, err)
	assert.Len(t, aliceJobs, 1)

	bobJobs, err := store.ListJobs("bob")
	require.NoError(t, err)
	assert.Len(t, bobJobs, 1)
}

func TestToolRoundtrip(t *testing.T) {
	store := openTestStore(t)

	tool := &types.Tool{
		Key:     types.ToolKey("local", "echo"),
		Author:  "local",
		Name:    "echo",
		Kind:    types.ToolKindScript,
		Enabled: true,
	}
	require.NoError(t, store.PutTool("main", tool))

	got, err := store.GetTool("main", tool.Key)
	require.NoError(t, err)
	assert.Equal(t, tool.Author, got.Author)

	require.NoError(t, store.DeleteTool("main", tool.Key))
	_, err = store.GetTool("main", tool.Key)
	assert.Error(t, err)
}

func TestSubscriptionRoundtrip(t *testing.T) {
	store := openTestStore(t)

	sub := &types.Subscription{
		SubscriberIdentity: "@@node.bob/main",
		SharedFolderPath:   "/shared/papers",
		State:              types.SubscriptionSyncing,
		Files:              map[string]types.SubscriptionFileState{},
	}
	require.NoError(t, store.PutSubscription("main", sub))

	got, err := store.GetSubscription("main", sub.SubscriberIdentity, sub.SharedFolderPath)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionSyncing, got.State)

	subs, err := store.ListSubscriptions("main")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, store.DeleteSubscription("main", sub.SubscriberIdentity, sub.SharedFolderPath))
	_, err = store.GetSubscription("main", sub.SubscriberIdentity, sub.SharedFolderPath)
	assert.Error(t, err)
}

func TestCachedIdentityRoundtrip(t *testing.T) {
	store := openTestStore(t)

	ri := &types.ResolvedIdentity{
		Name:       "@@node.alice",
		Routing:    "direct",
		Endpoints:  []string{"tcp://127.0.0.1:9550"},
		ResolvedAt: time.Now(),
	}
	require.NoError(t, store.PutCachedIdentity(ri))

	got, err := store.GetCachedIdentity(ri.Name)
	require.NoError(t, err)
	assert.Equal(t, ri.Endpoints, got.Endpoints)

	require.NoError(t, store.DeleteCachedIdentity(ri.Name))
	_, err = store.GetCachedIdentity(ri.Name)
	assert.Error(t, err)
}

func TestVectorResourceRoundtrip(t *testing.T) {
	store := openTestStore(t)

	path := types.FSPath{"papers", "crypto"}
	vr := &types.VectorResource{
		ID:                 "vr-1",
		Name:               "crypto papers",
		EmbeddingDimension: 384,
		Nodes: []types.VRNode{
			{ID: "n1", Text: "X25519 key exchange"},
		},
	}

	require.NoError(t, store.PutVectorResource("main", path, vr))

	got, err := store.GetVectorResource("main", path)
	require.NoError(t, err)
	assert.Equal(t, vr.Name, got.Name)
	require.Len(t, got.Nodes, 1)
	assert.Contains(t, got.Nodes[0].Text, "X25519")

	all, err := store.ListVectorResources("main")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteVectorResource("main", path))
	_, err = store.GetVectorResource("main", path)
	assert.Error(t, err)
}

func TestRetryQueueListsOnlyDueEntries(t *testing.T) {
	store := openTestStore(t)

	now := time.Now()
	require.NoError(t, store.EnqueueRetry(&types.RetryQueueEntry{ID: "r1", TargetPeer: "@@node.bob", DueAt: now.Add(-time.Second)}))
	require.NoError(t, store.EnqueueRetry(&types.RetryQueueEntry{ID: "r2", TargetPeer: "@@node.bob", DueAt: now.Add(time.Hour)}))

	due, err := store.ListDueRetries(now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "r1", due[0].ID)

	require.NoError(t, store.DeleteRetryEntry("r1"))
	due, err = store.ListDueRetries(now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestInboxDedup(t *testing.T) {
	store := openTestStore(t)

	env := &types.Envelope{Version: "1.0"}
	require.NoError(t, store.PutInboxMessage("inbox-1", "hash-a", env))

	has, err := store.HasInboxMessage("inbox-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasInboxMessage("inbox-1", "hash-b")
	require.NoError(t, err)
	assert.False(t, has)

	msgs, err := store.ListInbox("inbox-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestBatchDequeueAndAdvanceJobIsAtomic(t *testing.T) {
	store := openTestStore(t)

	job := &types.Job{ID: "job-1", Status: types.JobStatusRunning}
	require.NoError(t, store.PutJob("main", job))
	require.NoError(t, store.EnqueueJobMessage("main", &types.JobQueueEntry{
		JobID:       "job-1",
		MessageHash: "m1",
		Message:     types.JobMessage{ID: "m1", Content: "hello"},
	}))

	job.Status = types.JobStatusIdle
	err := store.Batch(func(b *Batch) error {
		if err := b.PutJob("main", job); err != nil {
			return err
		}
		return b.DeleteJobQueueEntry("main", "job-1", "m1")
	})
	require.NoError(t, err)

	got, err := store.GetJob("main", "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusIdle, got.Status)

	queue, err := store.ListJobQueue("main", "job-1")
	require.NoError(t, err)
	assert.Empty(t, queue)
}

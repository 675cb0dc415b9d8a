package subscription

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/log"
	"github.com/cuemby/agentnode/pkg/metrics"
	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/cuemby/agentnode/pkg/vfs"
	"github.com/rs/zerolog"
)

// DefaultLinkTTL is a fixed validity period for a provider-issued
// pre-signed link. No code in this module reads it: a manifest entry
// with a zero LinkExpiration is treated as never expiring by the
// Controller's HTTP file fetcher.
const DefaultLinkTTL = 24 * time.Hour

// syncInterval is how often the sync loop re-checks subscribed
// folders for manifest changes.
const syncInterval = 30 * time.Second

// Manager runs both sides of folder sharing for one profile: the
// provider side advertises manifests this node offers; the subscriber
// side periodically syncs folders this node has subscribed to.
type Manager struct {
	store     storage.Store
	profile   string
	requester string

	manifests ManifestFetcher
	files     FileFetcher
	importer  Importer

	logger zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager constructs a Manager for one profile.
func NewManager(store storage.Store, profile, requester string, manifests ManifestFetcher, files FileFetcher, importer Importer) *Manager {
	return &Manager{
		store:     store,
		profile:   profile,
		requester: requester,
		manifests: manifests,
		files:     files,
		importer:  importer,
		logger:    log.WithComponent("subscription"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background sync loop.
func (m *Manager) Start() { go m.run() }

// Stop halts the sync loop. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Advertise publishes info as a shared folder manifest this node
// provides.
func (m *Manager) Advertise(info *types.SharedFolderInfo) error {
	if err := m.store.PutSharedFolder(m.profile, info); err != nil {
		return newError(info.Path, ErrFetchFailed, err)
	}
	return nil
}

// Subscribe registers interest in provider's shared folder at path,
// starting it in the NotStarted state; the next sync tick begins
// pulling it.
func (m *Manager) Subscribe(provider, path string) error {
	sharedPath := joinProviderPath(provider, path)
	sub := &types.Subscription{
		SubscriberIdentity: m.requester,
		SharedFolderPath:   sharedPath,
		State:              types.SubscriptionNotStarted,
		Files:              make(map[string]types.SubscriptionFileState),
	}
	if err := m.store.PutSubscription(m.profile, sub); err != nil {
		return newError(sharedPath, ErrFetchFailed, err)
	}
	return nil
}

// ListMySubscriptions returns every folder this profile subscribes to.
func (m *Manager) ListMySubscriptions() ([]*types.Subscription, error) {
	subs, err := m.store.ListSubscriptions(m.profile)
	if err != nil {
		return nil, newError("", ErrFetchFailed, err)
	}
	return subs, nil
}

func (m *Manager) run() {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.syncTick()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) syncTick() {
	subs, err := m.store.ListSubscriptions(m.profile)
	if err != nil {
		m.logger.Error().Err(err).Msg("list subscriptions failed")
		return
	}
	for _, sub := range subs {
		if err := m.syncOne(context.Background(), sub); err != nil {
			m.logger.Error().Err(err).Str("shared_folder", sub.SharedFolderPath).Msg("sync failed")
		}
	}
}

// syncOne pulls the current manifest for sub, diffs it against what's
// already synced, fetches and imports whatever changed, and persists
// the resulting state. A file is only recorded as synced once its
// locally computed hash matches the manifest's; anything else is left
// out of sub.Files so the next tick retries it, rather than being
// imported half-verified.
func (m *Manager) syncOne(ctx context.Context, sub *types.Subscription) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SubscriptionSyncDuration)

	provider, path := splitProviderPath(sub.SharedFolderPath)
	manifest, err := m.manifests.FetchManifest(ctx, provider, path)
	if err != nil {
		return newError(sub.SharedFolderPath, ErrManifestUnavailable, err)
	}

	leafEntries := make(map[string]types.FSEntryTree)
	collectLeaves(manifest.Tree, leafEntries)

	if sub.Files == nil {
		sub.Files = make(map[string]types.SubscriptionFileState)
	}

	needsSync := false
	for p, entry := range leafEntries {
		if sub.Files[p].Hash != entry.Hash {
			needsSync = true
			break
		}
	}
	if !needsSync {
		sub.State = types.SubscriptionReady
		return m.store.PutSubscription(m.profile, sub)
	}

	sub.State = types.SubscriptionSyncing
	if err := m.store.PutSubscription(m.profile, sub); err != nil {
		return newError(sub.SharedFolderPath, ErrFetchFailed, err)
	}

	waitingForLinks := false
	for p, entry := range leafEntries {
		if sub.Files[p].Hash == entry.Hash && sub.Files[p].Hash != "" {
			continue
		}

		data, err := m.files.FetchFile(ctx, provider, entry)
		if err != nil {
			m.logger.Warn().Err(err).Str("path", p).Msg("fetch failed, will retry")
			waitingForLinks = true
			continue
		}

		sum := crypto.Hash(data)
		gotHash := hex.EncodeToString(sum[:])
		if gotHash != entry.Hash {
			m.logger.Warn().Str("path", p).Msg("fetched content hash mismatch, discarding")
			waitingForLinks = true
			continue
		}

		var resource types.VectorResource
		if err := json.Unmarshal(data, &resource); err != nil {
			m.logger.Warn().Err(err).Str("path", p).Msg("fetched content is not a valid resource, discarding")
			waitingForLinks = true
			continue
		}

		if err := m.importer.Import(ctx, sub.SubscriberIdentity, vfs.ParsePath(p), &resource); err != nil {
			m.logger.Warn().Err(err).Str("path", p).Msg("import failed, will retry")
			waitingForLinks = true
			continue
		}

		state := types.SubscriptionFileState{Hash: gotHash}
		if entry.Link != "" {
			state.Link = entry.Link
			state.Expiration = entry.LinkExpiration
		}
		sub.Files[p] = state
	}

	if waitingForLinks {
		sub.State = types.SubscriptionWaitingForLinks
	} else {
		sub.State = types.SubscriptionReady
	}
	if err := m.store.PutSubscription(m.profile, sub); err != nil {
		return newError(sub.SharedFolderPath, ErrFetchFailed, err)
	}
	return nil
}

func collectLeaves(tree types.FSEntryTree, out map[string]types.FSEntryTree) {
	if len(tree.Children) == 0 {
		out[tree.Path] = tree
		return
	}
	for _, child := range tree.Children {
		collectLeaves(child, out)
	}
}

// joinProviderPath and splitProviderPath encode a shared folder's
// providing identity as the first path segment of Subscription's
// SharedFolderPath, so the pair round-trips without a separate field.
func joinProviderPath(provider, path string) string {
	if path == "" || path == "/" {
		return "/" + provider
	}
	return "/" + provider + path
}

func splitProviderPath(shared string) (provider, path string) {
	trimmed := strings.TrimPrefix(shared, "/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return trimmed[:idx], trimmed[idx:]
	}
	return trimmed, "/"
}

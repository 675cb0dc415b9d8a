package subscription

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeManifestFetcher struct {
	manifest *types.SharedFolderInfo
	err      error
}

func (f *fakeManifestFetcher) FetchManifest(ctx context.Context, provider, path string) (*types.SharedFolderInfo, error) {
	return f.manifest, f.err
}

type fakeFileFetcher struct {
	files map[string][]byte
	err   error
}

func (f *fakeFileFetcher) FetchFile(ctx context.Context, provider string, entry types.FSEntryTree) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[entry.Path]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

var errNotFound = errors.New("no such file")

type fakeImporter struct {
	imported map[string]*types.VectorResource
	err      error
}

func (f *fakeImporter) Import(ctx context.Context, requester string, path types.FSPath, resource *types.VectorResource) error {
	if f.err != nil {
		return f.err
	}
	if f.imported == nil {
		f.imported = make(map[string]*types.VectorResource)
	}
	f.imported[path.String()] = resource
	return nil
}

func marshalResource(t *testing.T, vr *types.VectorResource) []byte {
	t.Helper()
	data, err := json.Marshal(vr)
	require.NoError(t, err)
	return data
}

func hashOf(t *testing.T, data []byte) string {
	t.Helper()
	sum := crypto.Hash(data)
	return hex.EncodeToString(sum[:])
}

func TestSyncOneImportsNewFilesAndGoesReady(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	vr := &types.VectorResource{ID: "doc1", Name: "doc1", EmbeddingDimension: 3}
	data := marshalResource(t, vr)
	hash := hashOf(t, data)

	manifest := &types.SharedFolderInfo{
		Path: "/shared",
		Tree: types.FSEntryTree{
			Name: "shared",
			Path: "/shared",
			Children: []types.FSEntryTree{
				{Name: "doc1.json", Path: "/shared/doc1.json", Hash: hash},
			},
		},
	}

	manifests := &fakeManifestFetcher{manifest: manifest}
	files := &fakeFileFetcher{files: map[string][]byte{"/shared/doc1.json": data}}
	importer := &fakeImporter{}

	m := NewManager(store, "p1", "me", manifests, files, importer)

	sub := &types.Subscription{
		SubscriberIdentity: "me",
		SharedFolderPath:   "/provider1/shared",
		State:              types.SubscriptionNotStarted,
		Files:              map[string]types.SubscriptionFileState{},
	}
	require.NoError(t, store.PutSubscription("p1", sub))

	require.NoError(t, m.syncOne(context.Background(), sub))

	require.Equal(t, types.SubscriptionReady, sub.State)
	require.Equal(t, hash, sub.Files["/shared/doc1.json"].Hash)
	require.Contains(t, importer.imported, "/shared/doc1.json")
}

func TestSyncOneQuarantinesHashMismatch(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	manifest := &types.SharedFolderInfo{
		Path: "/shared",
		Tree: types.FSEntryTree{
			Name: "shared",
			Path: "/shared",
			Children: []types.FSEntryTree{
				{Name: "doc1.json", Path: "/shared/doc1.json", Hash: "expected-hash"},
			},
		},
	}

	manifests := &fakeManifestFetcher{manifest: manifest}
	files := &fakeFileFetcher{files: map[string][]byte{"/shared/doc1.json": []byte("corrupted")}}
	importer := &fakeImporter{}

	m := NewManager(store, "p1", "me", manifests, files, importer)

	sub := &types.Subscription{
		SubscriberIdentity: "me",
		SharedFolderPath:   "/provider1/shared",
		State:              types.SubscriptionNotStarted,
		Files:              map[string]types.SubscriptionFileState{},
	}
	require.NoError(t, store.PutSubscription("p1", sub))

	require.NoError(t, m.syncOne(context.Background(), sub))

	require.Equal(t, types.SubscriptionWaitingForLinks, sub.State)
	require.Empty(t, sub.Files["/shared/doc1.json"].Hash)
	require.NotContains(t, importer.imported, "/shared/doc1.json")
}

func TestSyncOneSkipsAlreadySyncedFiles(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	manifest := &types.SharedFolderInfo{
		Path: "/shared",
		Tree: types.FSEntryTree{
			Name: "shared",
			Path: "/shared",
			Children: []types.FSEntryTree{
				{Name: "doc1.json", Path: "/shared/doc1.json", Hash: "same-hash"},
			},
		},
	}

	manifests := &fakeManifestFetcher{manifest: manifest}
	files := &fakeFileFetcher{} // FetchFile would error; must not be called
	importer := &fakeImporter{}

	m := NewManager(store, "p1", "me", manifests, files, importer)

	sub := &types.Subscription{
		SubscriberIdentity: "me",
		SharedFolderPath:   "/provider1/shared",
		State:              types.SubscriptionReady,
		Files: map[string]types.SubscriptionFileState{
			"/shared/doc1.json": {Hash: "same-hash"},
		},
	}
	require.NoError(t, store.PutSubscription("p1", sub))

	require.NoError(t, m.syncOne(context.Background(), sub))

	require.Equal(t, types.SubscriptionReady, sub.State)
	require.Empty(t, importer.imported)
}

func TestSplitAndJoinProviderPathRoundTrip(t *testing.T) {
	shared := joinProviderPath("@@node1.agentnode", "/docs/shared")
	provider, path := splitProviderPath(shared)
	require.Equal(t, "@@node1.agentnode", provider)
	require.Equal(t, "/docs/shared", path)
}

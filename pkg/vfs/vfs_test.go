package vfs

import (
	"testing"

	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dim      int
	maxChars int
}

func (f fakeEmbedder) Dimension() int { return f.dim }
func (f fakeEmbedder) MaxChars() int  { return f.maxChars }
func (f fakeEmbedder) Embed(text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r)
	}
	return v, nil
}

func openTestVFS(t *testing.T) (*VFS, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	v, err := Open(store, "main", "@@node.owner", fakeEmbedder{dim: 3, maxChars: 1000})
	require.NoError(t, err)
	return v, store
}

func resourceAt(dim int, nodes ...types.VRNode) *types.VectorResource {
	return &types.VectorResource{Nodes: nodes, EmbeddingDimension: dim}
}

func TestCreateFolderRequiresExistingParent(t *testing.T) {
	v, _ := openTestVFS(t)

	w, err := v.NewWriter("@@node.owner", types.FSPath{"docs", "legal"})
	require.NoError(t, err)
	err = w.CreateFolder()
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, ErrPathNotFound, vfsErr.Kind)

	w, err = v.NewWriter("@@node.owner", types.FSPath{"docs"})
	require.NoError(t, err)
	require.NoError(t, w.CreateFolder())

	w, err = v.NewWriter("@@node.owner", types.FSPath{"docs", "legal"})
	require.NoError(t, err)
	require.NoError(t, w.CreateFolder())
}

func TestInsertItemRejectsDimensionMismatch(t *testing.T) {
	v, _ := openTestVFS(t)

	w, err := v.NewWriter("@@node.owner", types.FSPath{"doc.md"})
	require.NoError(t, err)

	err = w.InsertItem(resourceAt(4, types.VRNode{ID: "n1", Embedding: []float32{1, 2, 3, 4}}), "doc.md")
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, ErrDimMismatch, vfsErr.Kind)
}

func TestInsertItemAndVectorSearch(t *testing.T) {
	v, _ := openTestVFS(t)

	w, err := v.NewWriter("@@node.owner", types.FSPath{"doc.md"})
	require.NoError(t, err)
	require.NoError(t, w.InsertItem(resourceAt(3,
		types.VRNode{ID: "n1", Text: "X25519 key exchange", Embedding: []float32{1, 0, 0}},
		types.VRNode{ID: "n2", Text: "unrelated topic", Embedding: []float32{0, 1, 0}},
	), "doc.md"))

	r, err := v.NewReader("@@node.owner", types.FSPath{})
	require.NoError(t, err)
	results, err := r.VectorSearch([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].Node.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestVectorSearchBoundedByK(t *testing.T) {
	v, _ := openTestVFS(t)
	w, err := v.NewWriter("@@node.owner", types.FSPath{"doc.md"})
	require.NoError(t, err)
	require.NoError(t, w.InsertItem(resourceAt(3,
		types.VRNode{ID: "a", Embedding: []float32{1, 0, 0}},
		types.VRNode{ID: "b", Embedding: []float32{0.9, 0.1, 0}},
		types.VRNode{ID: "c", Embedding: []float32{0, 0, 1}},
	), ""))

	r, err := v.NewReader("@@node.owner", types.FSPath{})
	require.NoError(t, err)
	results, err := r.VectorSearch([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Node.ID)
	assert.Equal(t, "b", results[1].Node.ID)
}

func TestPermissionDeniedWithoutExplicitEntry(t *testing.T) {
	v, _ := openTestVFS(t)
	w, err := v.NewWriter("@@node.owner", types.FSPath{"private.md"})
	require.NoError(t, err)
	require.NoError(t, w.InsertItem(resourceAt(3, types.VRNode{ID: "n1", Embedding: []float32{1, 0, 0}}), ""))

	_, err = v.NewReader("@@node.stranger", types.FSPath{"private.md"})
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, ErrPermissionDenied, vfsErr.Kind)
}

func TestSetPermissionGrantsWhitelistedAccess(t *testing.T) {
	v, _ := openTestVFS(t)
	w, err := v.NewWriter("@@node.owner", types.FSPath{"shared.md"})
	require.NoError(t, err)
	require.NoError(t, w.InsertItem(resourceAt(3, types.VRNode{ID: "n1", Embedding: []float32{1, 0, 0}}), ""))
	require.NoError(t, w.SetPermission(types.PermissionEntry{
		Visibility: types.VisibilityWhitelist,
		Whitelist:  map[string]types.PermissionLevel{"@@node.bob": types.PermissionRead},
	}))

	_, err = v.NewReader("@@node.bob", types.FSPath{"shared.md"})
	require.NoError(t, err)

	_, err = v.NewWriter("@@node.bob", types.FSPath{"shared.md"})
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, ErrPermissionDenied, vfsErr.Kind)
}

func TestDeleteRemovesDescendantsAndPermissions(t *testing.T) {
	v, _ := openTestVFS(t)
	wf, err := v.NewWriter("@@node.owner", types.FSPath{"docs"})
	require.NoError(t, err)
	require.NoError(t, wf.CreateFolder())

	wi, err := v.NewWriter("@@node.owner", types.FSPath{"docs", "a.md"})
	require.NoError(t, err)
	require.NoError(t, wi.InsertItem(resourceAt(3, types.VRNode{ID: "n1", Embedding: []float32{1, 0, 0}}), ""))
	require.NoError(t, wi.SetPermission(types.PermissionEntry{Visibility: types.VisibilityPublic}))

	wd, err := v.NewWriter("@@node.owner", types.FSPath{"docs"})
	require.NoError(t, err)
	require.NoError(t, wd.Delete())

	assert.False(t, v.exists(types.FSPath{"docs", "a.md"}))
	assert.Empty(t, v.permissions)
}

func TestMoveRekeysDescendantPermissions(t *testing.T) {
	v, _ := openTestVFS(t)
	wf, err := v.NewWriter("@@node.owner", types.FSPath{"docs"})
	require.NoError(t, err)
	require.NoError(t, wf.CreateFolder())

	wi, err := v.NewWriter("@@node.owner", types.FSPath{"docs", "a.md"})
	require.NoError(t, err)
	require.NoError(t, wi.InsertItem(resourceAt(3, types.VRNode{ID: "n1", Embedding: []float32{1, 0, 0}}), ""))
	require.NoError(t, wi.SetPermission(types.PermissionEntry{Visibility: types.VisibilityPublic}))

	wd, err := v.NewWriter("@@node.owner", types.FSPath{"docs"})
	require.NoError(t, err)
	require.NoError(t, wd.Move(types.FSPath{"archive"}))

	assert.True(t, v.exists(types.FSPath{"archive", "a.md"}))
	assert.False(t, v.exists(types.FSPath{"docs"}))
	_, hasOld := v.permissions["/docs/a.md"]
	assert.False(t, hasOld)
	entry, hasNew := v.permissions["/archive/a.md"]
	require.True(t, hasNew)
	assert.Equal(t, types.VisibilityPublic, entry.Visibility)
}

package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/agentnode/pkg/metrics"
	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/types"
)

// Embedder generates a query embedding for free-text search input. The
// configured implementation determines the VFS's fixed embedding
// dimension and the maximum number of input characters it accepts.
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dimension() int
	MaxChars() int
}

type node struct {
	path     types.FSPath
	isFolder bool
	resource *types.VectorResource
}

// VFS is one profile-scoped vector filesystem: a tree of folders and
// vector resources, permission-checked per path.
type VFS struct {
	store   storage.Store
	profile string
	owner   string
	embed   Embedder

	mu          sync.RWMutex
	nodes       map[string]*node
	permissions map[string]*types.PermissionEntry
}

// Open loads an existing profile's VFS tree from store, or starts a
// fresh one rooted at "/" if none exists yet. owner is the identity
// treated as having implicit admin access to paths with no explicit
// PermissionEntry.
func Open(store storage.Store, profile, owner string, embed Embedder) (*VFS, error) {
	v := &VFS{
		store:       store,
		profile:     profile,
		owner:       owner,
		embed:       embed,
		nodes:       make(map[string]*node),
		permissions: make(map[string]*types.PermissionEntry),
	}

	resources, err := store.ListVectorResources(profile)
	if err != nil {
		return nil, newError("/", ErrPathNotFound, err)
	}
	for pathStr, vr := range resources {
		path := splitPath(pathStr)
		v.nodes[pathStr] = &node{path: path, isFolder: isFolderMarker(vr), resource: vr}
		v.ensureAncestorsKnown(path)
	}
	return v, nil
}

func isFolderMarker(vr *types.VectorResource) bool {
	return vr.Nodes == nil && vr.Name == ""
}

func splitPath(s string) types.FSPath {
	s = strings.Trim(s, "/")
	if s == "" {
		return types.FSPath{}
	}
	return types.FSPath(strings.Split(s, "/"))
}

// ParsePath converts a slash-separated path string into an FSPath,
// exported so callers outside this package (e.g. the Job Manager,
// resolving a JobScope's database entries) don't need their own copy
// of this parsing rule.
func ParsePath(s string) types.FSPath {
	return splitPath(s)
}

// ensureAncestorsKnown marks every ancestor of path as an implicit
// folder if it isn't already a known node, preserving invariant (ii):
// every item's path is reachable from root.
func (v *VFS) ensureAncestorsKnown(path types.FSPath) {
	for i := 0; i < len(path); i++ {
		ancestor := path[:i]
		key := ancestor.String()
		if _, ok := v.nodes[key]; !ok {
			v.nodes[key] = &node{path: ancestor, isFolder: true}
		}
	}
}

func (v *VFS) exists(path types.FSPath) bool {
	_, ok := v.nodes[path.String()]
	return ok || len(path) == 0
}

// resolvePermission walks from path up to the root and returns the
// closest explicit PermissionEntry, or nil if none is set anywhere on
// the path.
func (v *VFS) resolvePermission(path types.FSPath) *types.PermissionEntry {
	for i := len(path); i >= 0; i-- {
		if entry, ok := v.permissions[path[:i].String()]; ok {
			return entry
		}
	}
	return nil
}

func (v *VFS) checkAccess(requester string, path types.FSPath, required types.PermissionLevel) error {
	v.mu.RLock()
	entry := v.resolvePermission(path)
	v.mu.RUnlock()

	if requester == v.owner {
		return nil
	}
	if entry == nil {
		metrics.VFSPermissionDenials.Inc()
		return newError(path.String(), ErrPermissionDenied, nil)
	}
	switch entry.Visibility {
	case types.VisibilityPublic:
		return nil
	case types.VisibilityWhitelist:
		if level, ok := entry.Whitelist[requester]; ok && level >= required {
			return nil
		}
		metrics.VFSPermissionDenials.Inc()
		return newError(path.String(), ErrPermissionDenied, nil)
	default: // VisibilityPrivate
		metrics.VFSPermissionDenials.Inc()
		return newError(path.String(), ErrPermissionDenied, nil)
	}
}

// NewReader constructs a read handle after checking requester has at
// least read access to path.
func (v *VFS) NewReader(requester string, path types.FSPath) (*Reader, error) {
	if err := v.checkAccess(requester, path, types.PermissionRead); err != nil {
		return nil, err
	}
	return &Reader{vfs: v, requester: requester, path: path}, nil
}

// NewWriter constructs a write handle after checking requester has at
// least write access to path.
func (v *VFS) NewWriter(requester string, path types.FSPath) (*Writer, error) {
	if err := v.checkAccess(requester, path, types.PermissionWrite); err != nil {
		return nil, err
	}
	return &Writer{Reader{vfs: v, requester: requester, path: path}}, nil
}

// descendants returns every known path p such that root is a prefix of
// p (root itself included, if known), sorted lexicographically.
func (v *VFS) descendants(root types.FSPath) []*node {
	prefix := root.String()
	var out []*node
	for key, n := range v.nodes {
		if prefix == "/" || key == prefix || strings.HasPrefix(key, prefix+"/") {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path.String() < out[j].path.String() })
	return out
}

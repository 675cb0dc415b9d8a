package vfs

import (
	"strings"

	"github.com/cuemby/agentnode/pkg/types"
)

// Writer is a permission-checked write handle rooted at a path.
type Writer struct {
	Reader
}

// CreateFolder creates an empty folder at the writer's path. The
// parent must already exist, preserving invariant (ii): every item's
// path is reachable from root.
func (w *Writer) CreateFolder() error {
	v := w.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.exists(w.path) {
		return newError(w.path.String(), ErrPathExists, nil)
	}
	parent := w.path.Parent()
	if !v.exists(parent) {
		return newError(parent.String(), ErrPathNotFound, nil)
	}

	marker := &types.VectorResource{}
	if err := v.store.PutVectorResource(v.profile, w.path, marker); err != nil {
		return newError(w.path.String(), ErrPathExists, err)
	}
	v.nodes[w.path.String()] = &node{path: w.path, isFolder: true}
	return nil
}

// InsertItem attaches resource at the writer's path. sourceFile, if
// non-empty, is recorded against the resource's source file map under
// the leaf name. The resource's embedding dimension must match the
// VFS's configured model.
func (w *Writer) InsertItem(resource *types.VectorResource, sourceFile string) error {
	v := w.vfs

	if v.embed != nil && v.embed.Dimension() > 0 && resource.EmbeddingDimension != v.embed.Dimension() {
		return newError(w.path.String(), ErrDimMismatch, nil)
	}
	for _, n := range resource.Nodes {
		if v.embed != nil && v.embed.Dimension() > 0 && len(n.Embedding) != v.embed.Dimension() {
			return newError(w.path.String(), ErrDimMismatch, nil)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.exists(w.path) {
		return newError(w.path.String(), ErrPathExists, nil)
	}
	parent := w.path.Parent()
	if !v.exists(parent) {
		return newError(parent.String(), ErrPathNotFound, nil)
	}

	if sourceFile != "" {
		if resource.SourceFileMap == nil {
			resource.SourceFileMap = make(map[string]string)
		}
		leaf := ""
		if len(w.path) > 0 {
			leaf = w.path[len(w.path)-1]
		}
		resource.SourceFileMap[leaf] = sourceFile
	}

	if err := v.store.PutVectorResource(v.profile, w.path, resource); err != nil {
		return newError(w.path.String(), ErrPathExists, err)
	}
	v.nodes[w.path.String()] = &node{path: w.path, resource: resource}
	return nil
}

// Delete removes the writer's path and every descendant, along with
// their permission entries (invariant (iii)).
func (w *Writer) Delete() error {
	v := w.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.exists(w.path) {
		return newError(w.path.String(), ErrPathNotFound, nil)
	}

	for _, n := range v.descendants(w.path) {
		key := n.path.String()
		if !n.isFolder {
			if err := v.store.DeleteVectorResource(v.profile, n.path); err != nil {
				return newError(key, ErrPathNotFound, err)
			}
		} else if key != "/" {
			_ = v.store.DeleteVectorResource(v.profile, n.path)
		}
		delete(v.nodes, key)
		delete(v.permissions, key)
	}
	return nil
}

// Move relocates the writer's path (and its entire subtree) to dest,
// re-keying every descendant's permission entry atomically under the
// VFS's single write lock.
func (w *Writer) Move(dest types.FSPath) error {
	v := w.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.exists(w.path) {
		return newError(w.path.String(), ErrPathNotFound, nil)
	}
	if v.exists(dest) {
		return newError(dest.String(), ErrPathExists, nil)
	}
	if !v.exists(dest.Parent()) {
		return newError(dest.Parent().String(), ErrPathNotFound, nil)
	}

	oldPrefix := w.path.String()
	for _, n := range v.descendants(w.path) {
		oldKey := n.path.String()
		suffix := strings.TrimPrefix(oldKey, oldPrefix)
		newPath := append(append(types.FSPath{}, dest...), splitPath(suffix)...)
		newKey := newPath.String()

		if !n.isFolder && n.resource != nil {
			if err := v.store.PutVectorResource(v.profile, newPath, n.resource); err != nil {
				return newError(newKey, ErrPathExists, err)
			}
			_ = v.store.DeleteVectorResource(v.profile, n.path)
		}

		n.path = newPath
		delete(v.nodes, oldKey)
		v.nodes[newKey] = n

		if entry, ok := v.permissions[oldKey]; ok {
			delete(v.permissions, oldKey)
			v.permissions[newKey] = entry
		}
	}
	return nil
}

// SetPermission attaches an explicit PermissionEntry to the writer's
// path, overriding whatever would otherwise be inherited from an
// ancestor.
func (w *Writer) SetPermission(entry types.PermissionEntry) error {
	v := w.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.exists(w.path) {
		return newError(w.path.String(), ErrPathNotFound, nil)
	}
	v.permissions[w.path.String()] = &entry
	return nil
}

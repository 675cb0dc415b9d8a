/*
Package vfs implements the node's shared vector filesystem: a tree of
folders and embedded vector resources, permission-checked per path, and
searchable by cosine similarity.

	reader, err := tree.NewReader(requester, path)
	results, err := reader.VectorSearch(embedding, 10)

Permission resolution walks from the target path up to the root; the
closest explicit PermissionEntry wins. A path with no explicit entry
anywhere above it is private to the VFS owner. Mutations go through a
Writer, obtained the same way but requiring at least write access.
*/
package vfs

package subscription

import (
	"context"

	"github.com/cuemby/agentnode/pkg/types"
)

// ManifestFetcher retrieves a provider's current SharedFolderInfo
// manifest for one shared folder path.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, provider, path string) (*types.SharedFolderInfo, error)
}

// FileFetcher retrieves one leaf's current content. entry carries an
// optional pre-signed link (Link/LinkExpiration); an implementation
// typically prefers it over the P2P transport while it's still valid.
type FileFetcher interface {
	FetchFile(ctx context.Context, provider string, entry types.FSEntryTree) ([]byte, error)
}

// Importer commits a fetched, hash-verified resource into the
// subscriber's local VFS at path.
type Importer interface {
	Import(ctx context.Context, requester string, path types.FSPath, resource *types.VectorResource) error
}

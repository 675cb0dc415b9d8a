package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/agentnode/pkg/identity"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/cuemby/agentnode/pkg/vfs"
)

// httpManifestFetcher and httpFileFetcher implement subscription's
// ManifestFetcher/FileFetcher over plain HTTP: the provider's resolved
// endpoint serves its manifest and file content, and a leaf's own
// pre-signed Link is preferred over the endpoint when still valid.
// P2P delivery of arbitrary file bytes has no place in the envelope
// contract (envelopes carry job messages, not blob transfers), so these
// adapters only speak HTTP; recorded as a design decision in DESIGN.md.
type httpManifestFetcher struct {
	resolver *identity.Resolver
	client   *http.Client
}

func (f *httpManifestFetcher) FetchManifest(ctx context.Context, provider, path string) (*types.SharedFolderInfo, error) {
	ri, err := f.resolver.Resolve(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", provider, err)
	}
	if len(ri.Endpoints) == 0 {
		return nil, fmt.Errorf("provider %q has no reachable endpoint", provider)
	}

	reqURL := fmt.Sprintf("http://%s/manifest?path=%s", ri.Endpoints[0], url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch for %q returned status %d", path, resp.StatusCode)
	}

	var info types.SharedFolderInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &info, nil
}

type httpFileFetcher struct {
	resolver *identity.Resolver
	client   *http.Client
}

func (f *httpFileFetcher) FetchFile(ctx context.Context, provider string, entry types.FSEntryTree) ([]byte, error) {
	target := entry.Link
	if target == "" || (!entry.LinkExpiration.IsZero() && time.Now().After(entry.LinkExpiration)) {
		ri, err := f.resolver.Resolve(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("resolve provider %q: %w", provider, err)
		}
		if len(ri.Endpoints) == 0 {
			return nil, fmt.Errorf("provider %q has no reachable endpoint", provider)
		}
		target = fmt.Sprintf("http://%s/manifest/file?path=%s", ri.Endpoints[0], url.QueryEscape(entry.Path))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file fetch for %q returned status %d", entry.Path, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// vfsImporter commits a synced subscription file into the subscriber's
// own VFS tree, resolved lazily through vfsFor so the subscription
// package never needs to know about profile-to-VFS wiring.
type vfsImporter struct {
	vfsFor  func(profile string) (*vfs.VFS, error)
	profile string
}

func (i *vfsImporter) Import(ctx context.Context, requester string, path types.FSPath, resource *types.VectorResource) error {
	v, err := i.vfsFor(i.profile)
	if err != nil {
		return err
	}
	w, err := v.NewWriter(requester, path)
	if err != nil {
		return err
	}
	return w.InsertItem(resource, "")
}

package jobmanager

import (
	"context"
	"sort"

	"github.com/cuemby/agentnode/pkg/types"
	"github.com/cuemby/agentnode/pkg/vfs"
)

// VFSScopeSearcher is the default ScopeSearcher: it scores a job's
// local (job-private) scope entries directly with vfs.CosineSimilarity
// and resolves database scope entries through a permission-checked
// VFS reader for the job's profile. The Controller constructs one per
// profile in EnsureProfile, handing it a lookup from profile name to
// that profile's open *vfs.VFS.
type VFSScopeSearcher struct {
	vfsFor func(profile string) (*vfs.VFS, bool)
}

// NewVFSScopeSearcher builds a ScopeSearcher backed by vfsFor, which
// must return the already-open VFS for a profile, or false if none is
// open for it.
func NewVFSScopeSearcher(vfsFor func(profile string) (*vfs.VFS, bool)) *VFSScopeSearcher {
	return &VFSScopeSearcher{vfsFor: vfsFor}
}

func (s *VFSScopeSearcher) Search(ctx context.Context, profile, requester string, scope types.JobScope, query []float32, k int) ([]ScopeHit, error) {
	if k <= 0 {
		return nil, nil
	}

	var hits []ScopeHit

	for _, entry := range scope.Local {
		if entry.VectorResource == nil {
			continue
		}
		for _, n := range entry.VectorResource.Nodes {
			if len(n.Embedding) == 0 {
				continue
			}
			score, err := vfs.CosineSimilarity(query, n.Embedding)
			if err != nil {
				continue
			}
			hits = append(hits, ScopeHit{Path: entry.Name, Score: score, Text: n.Text})
		}
	}

	if v, ok := s.vfsFor(profile); ok {
		for _, dbEntry := range scope.Database {
			reader, err := v.NewReader(requester, vfs.ParsePath(dbEntry.Path))
			if err != nil {
				continue
			}
			results, err := reader.VectorSearch(query, k)
			if err != nil {
				continue
			}
			for _, r := range results {
				hits = append(hits, ScopeHit{Path: r.Path.String(), Score: r.Score, Text: r.Node.Text})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

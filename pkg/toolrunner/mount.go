package toolrunner

import (
	"os"
	"strconv"
)

// Mount is one host path made available to a tool subprocess. The
// runner doesn't bind-mount into a container (there is no container
// here); it stages a temp directory per run and symlinks Source into
// it under the env var named by EnvVar. Writable is not consulted:
// the runner does not make any mount read-only, ASSETS included, so a
// subprocess can write wherever Source's own filesystem permissions
// allow.
type Mount struct {
	EnvVar   string
	Source   string
	Writable bool
}

type stagedMount struct {
	envVar string
	path   string
}

// stageMounts symlinks every mount's source path into a fresh temp
// directory so the subprocess sees a stable, per-run path regardless
// of what EnvVar it was declared under. No mount, ASSETS included, is
// made read-only here: write access is whatever the filesystem
// permissions of Source allow, since symlinks can't independently
// restrict writes.
func stageMounts(mounts []Mount) ([]stagedMount, func(), error) {
	if len(mounts) == 0 {
		return nil, func() {}, nil
	}

	root, err := os.MkdirTemp("", "agentnode-tool-mount-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(root) }

	staged := make([]stagedMount, 0, len(mounts))
	for i, m := range mounts {
		link := root + "/" + m.EnvVar + "_" + strconv.Itoa(i)
		if err := os.Symlink(m.Source, link); err != nil {
			cleanup()
			return nil, nil, err
		}
		staged = append(staged, stagedMount{envVar: m.EnvVar, path: link})
	}
	return staged, cleanup, nil
}

package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/events"
	"github.com/cuemby/agentnode/pkg/identity"
	"github.com/cuemby/agentnode/pkg/jobmanager"
	"github.com/cuemby/agentnode/pkg/log"
	"github.com/cuemby/agentnode/pkg/security"
	"github.com/cuemby/agentnode/pkg/storage"
	"github.com/cuemby/agentnode/pkg/subscription"
	"github.com/cuemby/agentnode/pkg/toolrunner"
	"github.com/cuemby/agentnode/pkg/transport"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/cuemby/agentnode/pkg/vfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// profileState bundles the per-profile components a Controller lazily
// spins up: one VFS tree, one Job Manager, one Subscription Manager.
type profileState struct {
	profile string
	owner   string
	vfs     *vfs.VFS
	jobs    *jobmanager.Manager
	subs    *subscription.Manager
}

// Controller owns every subsystem's lifetime and is the sole entry
// point the API command surface dispatches through.
type Controller struct {
	cfg Config

	store     storage.Store
	resolver  *identity.Resolver
	transport *transport.Transport
	runner    *toolrunner.Runner
	broker    *events.Broker
	secrets   *security.SecretsManager

	logger zerolog.Logger

	mu       sync.Mutex
	profiles map[string]*profileState
}

// NewController constructs every subsystem but does not start their
// background loops; call Start for that.
func NewController(cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, newError("new_controller", ErrComponentFailed, err)
	}

	secrets, err := cfg.secretsManager()
	if err != nil {
		return nil, newError("new_controller", ErrComponentFailed, err)
	}

	resolver := identity.NewResolver(cfg.Registry, cfg.IdentityConfig)
	broker := events.NewBroker()
	runner := toolrunner.NewRunner(cfg.ToolConcurrency, cfg.ToolBinDir, secrets)

	tp := transport.New(cfg.transportConfig(), resolver, store, nil)

	return &Controller{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		transport: tp,
		runner:    runner,
		broker:    broker,
		secrets:   secrets,
		logger:    log.WithComponent("controller"),
		profiles:  make(map[string]*profileState),
	}, nil
}

// Start begins every background loop: the identity resolver's refresh
// loop, the event broker, and the transport's listener and retry loop.
// Per-profile loops (Job Manager, Subscription Manager) start lazily
// the first time EnsureProfile opens that profile.
func (c *Controller) Start() error {
	c.resolver.Start()
	c.broker.Start()

	if c.cfg.ListenAddr != "" {
		if err := c.transport.Listen(c.cfg.ListenAddr); err != nil {
			return newError("start", ErrComponentFailed, err)
		}
	}
	go c.transport.StartRetryLoop(context.Background(), time.Second)
	return nil
}

// Shutdown drains in-flight work and closes every subsystem in order:
// stop accepting new input, drain the job managers with a bounded
// timeout, flush persistence, close the transport.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	states := make([]*profileState, 0, len(c.profiles))
	for _, st := range c.profiles {
		states = append(states, st)
	}
	c.mu.Unlock()

	for _, st := range states {
		st.jobs.Stop()
		st.subs.Stop()
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()
	c.waitForIdle(drainCtx, states)

	c.resolver.Stop()
	c.broker.Stop()

	if err := c.transport.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("transport close failed during shutdown")
	}
	if err := c.store.Close(); err != nil {
		return newError("shutdown", ErrComponentFailed, err)
	}
	return nil
}

// waitForIdle polls every open profile's jobs until none report Running
// or until drainCtx expires, whichever comes first.
func (c *Controller) waitForIdle(drainCtx context.Context, states []*profileState) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		busy := false
		for _, st := range states {
			jobs, err := c.store.ListJobs(st.profile)
			if err != nil {
				continue
			}
			for _, job := range jobs {
				if job.Status == types.JobStatusRunning {
					busy = true
				}
			}
		}
		if !busy {
			return
		}
		select {
		case <-ticker.C:
		case <-drainCtx.Done():
			c.logger.Warn().Msg("drain timeout reached with jobs still running")
			return
		}
	}
}

// EnsureProfile opens (or returns the already-open) per-profile state
// for profile, with owner treated as having implicit admin access to
// every path with no explicit permission entry.
func (c *Controller) EnsureProfile(profile, owner string) (*profileState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.profiles[profile]; ok {
		return st, nil
	}

	v, err := vfs.Open(c.store, profile, owner, c.cfg.Embed)
	if err != nil {
		return nil, newError("ensure_profile", ErrComponentFailed, err)
	}

	scope := jobmanager.NewVFSScopeSearcher(func(p string) (*vfs.VFS, bool) {
		st, ok := c.lookupProfile(p)
		if !ok {
			return nil, false
		}
		return st.vfs, true
	})

	jobs := jobmanager.NewManager(c.store, profile, owner, c.runner, c.cfg.Provider, scope, c.cfg.Embed, c.broker)

	importer := &vfsImporter{profile: profile, vfsFor: func(p string) (*vfs.VFS, error) {
		st, ok := c.lookupProfile(p)
		if !ok {
			return nil, fmt.Errorf("profile %q not open", p)
		}
		return st.vfs, nil
	}}
	subs := subscription.NewManager(c.store, profile, owner,
		&httpManifestFetcher{resolver: c.resolver, client: c.cfg.httpClient},
		&httpFileFetcher{resolver: c.resolver, client: c.cfg.httpClient},
		importer,
	)

	st := &profileState{profile: profile, owner: owner, vfs: v, jobs: jobs, subs: subs}
	c.profiles[profile] = st

	jobs.Start()
	subs.Start()
	return st, nil
}

func (c *Controller) lookupProfile(profile string) (*profileState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.profiles[profile]
	return st, ok
}

func (c *Controller) requireProfile(profile string) (*profileState, error) {
	st, ok := c.lookupProfile(profile)
	if !ok {
		return nil, newError("require_profile", ErrUnknownProfile, fmt.Errorf("profile %q not open", profile))
	}
	return st, nil
}

// --- Job lifecycle ---

// CreateJob registers a new job under profile and returns its ID.
func (c *Controller) CreateJob(profile, owner string, scope types.JobScope, cfg types.JobConfig) (string, error) {
	st, err := c.EnsureProfile(profile, owner)
	if err != nil {
		return "", err
	}

	job := &types.Job{
		ID:                uuid.NewString(),
		ParentAgentID:     owner,
		Scope:             scope,
		ConversationInbox: fmt.Sprintf("job_inbox::%s", uuid.NewString()),
		Config:            cfg,
		Status:            types.JobStatusIdle,
		DatetimeCreated:   time.Now(),
	}
	if err := c.store.PutJob(st.profile, job); err != nil {
		return "", newError("create_job", ErrComponentFailed, err)
	}
	return job.ID, nil
}

// SendMessage appends a job message to jobID's FIFO.
func (c *Controller) SendMessage(profile, jobID, content string, attachments []string) error {
	st, err := c.requireProfile(profile)
	if err != nil {
		return err
	}
	msg := types.JobMessage{
		ID:          uuid.NewString(),
		Content:     content,
		Attachments: attachments,
		ReceivedAt:  time.Now(),
	}
	if err := st.jobs.Submit(jobID, msg); err != nil {
		return newError("send_message", ErrComponentFailed, err)
	}
	return nil
}

// StopJob cooperatively cancels jobID's current iteration, if any.
func (c *Controller) StopJob(profile, jobID string) error {
	st, err := c.requireProfile(profile)
	if err != nil {
		return err
	}
	if err := st.jobs.StopJob(jobID); err != nil {
		return newError("stop_job", ErrComponentFailed, err)
	}
	return nil
}

// GetInbox returns up to limit envelopes from inbox starting after
// cursor (an opaque offset encoded as a decimal string; empty means the
// beginning).
func (c *Controller) GetInbox(inbox, cursor string, limit int) ([]*types.Envelope, error) {
	all, err := c.store.ListInbox(inbox)
	if err != nil {
		return nil, newError("get_inbox", ErrComponentFailed, err)
	}
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return all[start:end], nil
}

// --- VFS ---

func (c *Controller) Mkdir(profile, requester, path string) error {
	st, err := c.EnsureProfile(profile, requester)
	if err != nil {
		return err
	}
	w, err := st.vfs.NewWriter(requester, vfs.ParsePath(path))
	if err != nil {
		return err
	}
	return w.CreateFolder()
}

func (c *Controller) PutItem(profile, requester, path string, resource *types.VectorResource, sourceFile string) error {
	st, err := c.EnsureProfile(profile, requester)
	if err != nil {
		return err
	}
	w, err := st.vfs.NewWriter(requester, vfs.ParsePath(path))
	if err != nil {
		return err
	}
	return w.InsertItem(resource, sourceFile)
}

func (c *Controller) Rm(profile, requester, path string) error {
	st, err := c.EnsureProfile(profile, requester)
	if err != nil {
		return err
	}
	w, err := st.vfs.NewWriter(requester, vfs.ParsePath(path))
	if err != nil {
		return err
	}
	return w.Delete()
}

func (c *Controller) Mv(profile, requester, path, dest string) error {
	st, err := c.EnsureProfile(profile, requester)
	if err != nil {
		return err
	}
	w, err := st.vfs.NewWriter(requester, vfs.ParsePath(path))
	if err != nil {
		return err
	}
	return w.Move(vfs.ParsePath(dest))
}

func (c *Controller) Search(profile, requester, path, query string, k int) ([]vfs.SearchResult, error) {
	st, err := c.EnsureProfile(profile, requester)
	if err != nil {
		return nil, err
	}
	r, err := st.vfs.NewReader(requester, vfs.ParsePath(path))
	if err != nil {
		return nil, err
	}
	embedding, err := r.GenerateQueryEmbedding(query)
	if err != nil {
		return nil, err
	}
	return r.VectorSearch(embedding, k)
}

func (c *Controller) SetPermission(profile, requester, path string, entry types.PermissionEntry) error {
	st, err := c.EnsureProfile(profile, requester)
	if err != nil {
		return err
	}
	w, err := st.vfs.NewWriter(requester, vfs.ParsePath(path))
	if err != nil {
		return err
	}
	return w.SetPermission(entry)
}

// --- Tools ---

// toolManifest is the on-disk shape a tool is declared in, parsed with
// gopkg.in/yaml.v3.
type toolManifest struct {
	Author       string                           `yaml:"author"`
	Name         string                           `yaml:"name"`
	Kind         types.ToolKind                   `yaml:"kind"`
	InputSchema  json.RawMessage                  `yaml:"input_schema"`
	OutputSchema json.RawMessage                  `yaml:"output_schema"`
	Config       map[string]types.ToolConfigValue `yaml:"config"`
	Enabled      bool                             `yaml:"enabled"`
}

// InstallToolFromManifest parses a YAML tool manifest and installs it.
func (c *Controller) InstallToolFromManifest(profile string, raw []byte) (*types.Tool, error) {
	var manifest toolManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, newError("install_tool_from_manifest", ErrBadManifest, err)
	}
	tool := &types.Tool{
		Key:          types.ToolKey(manifest.Author, manifest.Name),
		Author:       manifest.Author,
		Name:         manifest.Name,
		Kind:         manifest.Kind,
		InputSchema:  manifest.InputSchema,
		OutputSchema: manifest.OutputSchema,
		Config:       manifest.Config,
		Enabled:      manifest.Enabled,
	}
	if err := c.InstallTool(profile, tool); err != nil {
		return nil, err
	}
	return tool, nil
}

// InstallTool seals any Secret-flagged config values and persists tool.
func (c *Controller) InstallTool(profile string, tool *types.Tool) error {
	sealed, err := c.sealSecrets(tool.Config)
	if err != nil {
		return newError("install_tool", ErrComponentFailed, err)
	}
	tool.Config = sealed
	if err := c.store.PutTool(profile, tool); err != nil {
		return newError("install_tool", ErrComponentFailed, err)
	}
	return nil
}

func (c *Controller) sealSecrets(cfg map[string]types.ToolConfigValue) (map[string]types.ToolConfigValue, error) {
	sealed := make(map[string]types.ToolConfigValue, len(cfg))
	for k, v := range cfg {
		if !v.Secret {
			sealed[k] = v
			continue
		}
		ciphertext, err := c.secrets.EncryptSecret([]byte(v.Value))
		if err != nil {
			return nil, fmt.Errorf("seal config key %q: %w", k, err)
		}
		sealed[k] = types.ToolConfigValue{Value: string(ciphertext), Secret: true}
	}
	return sealed, nil
}

func (c *Controller) RemoveTool(profile, key string) error {
	if err := c.store.DeleteTool(profile, key); err != nil {
		return newError("remove_tool", ErrUnknownTool, err)
	}
	return nil
}

func (c *Controller) ListTools(profile string) ([]*types.Tool, error) {
	tools, err := c.store.ListTools(profile)
	if err != nil {
		return nil, newError("list_tools", ErrComponentFailed, err)
	}
	return tools, nil
}

func (c *Controller) SetToolEnabled(profile, key string, enabled bool) error {
	tool, err := c.store.GetTool(profile, key)
	if err != nil {
		return newError("set_tool_enabled", ErrUnknownTool, err)
	}
	tool.Enabled = enabled
	return c.store.PutTool(profile, tool)
}

// InvokeDirectly runs tool outside of any job's chain, honoring the
// tool's own enabled flag.
func (c *Controller) InvokeDirectly(ctx context.Context, profile, toolKey string, inputs json.RawMessage) (*toolrunner.Result, error) {
	tool, err := c.store.GetTool(profile, toolKey)
	if err != nil {
		return nil, newError("invoke_directly", ErrUnknownTool, err)
	}
	if !tool.Enabled {
		return nil, newError("invoke_directly", ErrUnknownTool, fmt.Errorf("tool %q is disabled", toolKey))
	}
	return c.runner.Run(ctx, tool, inputs, nil, nil, c.cfg.ToolDefaultTimeout)
}

// --- Identity ---

// RegisterDevice generates a fresh Ed25519/X25519 keypair for a new
// device identity and caches its public half under name.
func (c *Controller) RegisterDevice(name string) (types.KeyMaterial, error) {
	keys, err := crypto.GenerateIdentityKeys()
	if err != nil {
		return types.KeyMaterial{}, newError("register_device", ErrComponentFailed, err)
	}
	ri := &types.ResolvedIdentity{
		Name:                name,
		SigningPublicKey:    keys.SigningPublicKey,
		EncryptionPublicKey: keys.EncryptionPublicKey,
		ResolvedAt:          time.Now(),
	}
	if err := c.store.PutCachedIdentity(ri); err != nil {
		return types.KeyMaterial{}, newError("register_device", ErrComponentFailed, err)
	}
	return keys, nil
}

// RotateKeys generates and caches a replacement keypair for name,
// invalidating whatever the resolver currently has cached for it.
func (c *Controller) RotateKeys(name string) (types.KeyMaterial, error) {
	keys, err := c.RegisterDevice(name)
	if err != nil {
		return types.KeyMaterial{}, err
	}
	c.resolver.Invalidate(name)
	return keys, nil
}

// Resolve looks up name through the identity resolver.
func (c *Controller) Resolve(ctx context.Context, name string) (*types.ResolvedIdentity, error) {
	ri, err := c.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, newError("resolve", ErrComponentFailed, err)
	}
	return ri, nil
}

// --- Subscriptions ---

func (c *Controller) Advertise(profile, owner string, info *types.SharedFolderInfo) error {
	st, err := c.EnsureProfile(profile, owner)
	if err != nil {
		return err
	}
	return st.subs.Advertise(info)
}

func (c *Controller) Subscribe(profile, owner, peer, path string) error {
	st, err := c.EnsureProfile(profile, owner)
	if err != nil {
		return err
	}
	return st.subs.Subscribe(peer, path)
}

func (c *Controller) ListMySubscriptions(profile string) ([]*types.Subscription, error) {
	st, err := c.requireProfile(profile)
	if err != nil {
		return nil, err
	}
	return st.subs.ListMySubscriptions()
}

package controller

import (
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/cuemby/agentnode/pkg/identity"
	"github.com/cuemby/agentnode/pkg/jobmanager"
	"github.com/cuemby/agentnode/pkg/security"
	"github.com/cuemby/agentnode/pkg/transport"
	"github.com/cuemby/agentnode/pkg/vfs"
)

// Config assembles every external collaborator and tunable a Controller
// needs. Fields left zero fall back to sane defaults in NewController.
type Config struct {
	DataDir string

	LocalName  string
	SigningKey ed25519.PrivateKey

	ListenAddr string
	RelayAddr  string

	ToolBinDir         string
	ToolConcurrency    int
	ToolDefaultTimeout time.Duration

	IdentityConfig identity.Config
	Registry       identity.RegistryClient

	Provider jobmanager.LLMProvider
	Embed    vfs.Embedder

	DrainTimeout time.Duration

	httpClient *http.Client // overridable in tests
}

func (c Config) withDefaults() Config {
	if c.ToolConcurrency == 0 {
		c.ToolConcurrency = 8 // matches toolrunner.DefaultConcurrency
	}
	if c.ToolDefaultTimeout == 0 {
		c.ToolDefaultTimeout = 60 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// secretsManager derives a node-wide AES key from the local identity so
// Secret-flagged tool config values never touch disk in plaintext.
func (c Config) secretsManager() (*security.SecretsManager, error) {
	key := security.DeriveKeyFromNodeID(c.LocalName)
	return security.NewSecretsManager(key)
}

// transportConfig projects the relevant Config fields onto
// transport.Config.
func (c Config) transportConfig() transport.Config {
	return transport.Config{
		LocalName:  c.LocalName,
		SigningKey: c.SigningKey,
		RelayAddr:  c.RelayAddr,
	}
}

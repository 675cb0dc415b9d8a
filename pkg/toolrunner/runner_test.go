package toolrunner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/agentnode/pkg/security"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script in dir and returns its
// path, used as a stand-in "native" tool interpreter.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestRunEchoesStdinToStdout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo-tool", "#!/bin/sh\ncat\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{Key: script, Kind: types.ToolKindNative}

	result, err := runner.Run(context.Background(), tool, json.RawMessage(`{"x":1}`), nil, nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(result.Output))
}

func TestRunCapturesStderrAsLogs(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "logging-tool", "#!/bin/sh\necho 'hello from stderr' >&2\necho 'null'\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{Key: script, Kind: types.ToolKindNative}

	result, err := runner.Run(context.Background(), tool, nil, nil, nil, time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Logs, "hello from stderr")
}

func TestRunRejectsBadOutputJSON(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "bad-json-tool", "#!/bin/sh\necho 'not json'\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{Key: script, Kind: types.ToolKindNative}

	_, err := runner.Run(context.Background(), tool, nil, nil, nil, time.Second)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrBadOutputJSON, toolErr.Kind)
}

func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "failing-tool", "#!/bin/sh\nexit 3\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{Key: script, Kind: types.ToolKindNative}

	_, err := runner.Run(context.Background(), tool, nil, nil, nil, time.Second)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrNonZeroExit, toolErr.Kind)
}

func TestRunTimesOutAndKillsProcess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow-tool", "#!/bin/sh\nsleep 5\necho 'null'\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{Key: script, Kind: types.ToolKindNative}

	_, err := runner.Run(context.Background(), tool, nil, nil, nil, 100*time.Millisecond)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrTimeout, toolErr.Kind)
}

func TestRunCancellation(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow-tool2", "#!/bin/sh\nsleep 5\necho 'null'\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{Key: script, Kind: types.ToolKindNative}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := runner.Run(ctx, tool, nil, nil, nil, 5*time.Second)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrCancelled, toolErr.Kind)
}

func TestRunPassesAllowedEnvAndToolConfig(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "env-tool", `#!/bin/sh
printf '{"bearer":"%s","secret":"%s","blocked":"%s"}' "$BEARER" "$API_KEY" "$SHOULD_NOT_APPEAR"
`)

	secrets, err := security.NewSecretsManager(make([]byte, 32))
	require.NoError(t, err)
	sealed, err := secrets.EncryptSecret([]byte("shh"))
	require.NoError(t, err)

	runner := NewRunner(2, dir, secrets)
	tool := &types.Tool{
		Key:  script,
		Kind: types.ToolKindNative,
		Config: map[string]types.ToolConfigValue{
			"API_KEY": {Value: string(sealed), Secret: true},
		},
	}

	result, err := runner.Run(context.Background(), tool, nil, map[string]string{
		"BEARER":            "token123",
		"SHOULD_NOT_APPEAR": "leak",
	}, nil, time.Second)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Equal(t, "token123", out["bearer"])
	assert.Equal(t, "shh", out["secret"])
	assert.Empty(t, out["blocked"])
}

func TestRunErrorsOnSealedSecretWithoutSecretsManager(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "env-tool2", "#!/bin/sh\necho null\n")

	runner := NewRunner(2, dir, nil)
	tool := &types.Tool{
		Key:  script,
		Kind: types.ToolKindNative,
		Config: map[string]types.ToolConfigValue{
			"API_KEY": {Value: "ciphertext", Secret: true},
		},
	}

	_, err := runner.Run(context.Background(), tool, nil, nil, nil, time.Second)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrSpawnFailed, toolErr.Kind)
}

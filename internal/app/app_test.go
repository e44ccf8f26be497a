package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/wallet"
	"custody/pkg/models"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`
storage:
  path: %s
security:
  mnemonic_key: app-test
  kdf:
    memory_kib: 1024
    iterations: 1
    parallelism: 1
transactions:
  broadcaster: demo
  balance_fallback: zero
output:
  format: json
  directory: %s
logging:
  level: warn
  format: text
  output: stderr
api:
  mode: test
  shutdown_timeout: 2s
`, filepath.Join(dir, "custody.db"), filepath.Join(dir, "outputs"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_OfflineWiring(t *testing.T) {
	dir := t.TempDir()
	a, err := New(context.Background(), Options{ConfigPath: writeConfig(t, dir), Offline: true, Verbose: true})
	require.NoError(t, err)

	assert.Equal(t, "debug", a.Config.Logging.Level)
	assert.Nil(t, a.Pool)
	assert.ElementsMatch(t, []models.ChainType{models.ChainETH, models.ChainSOL, models.ChainTRON}, a.Service.Chains())

	created, err := a.Service.CreateWallet(context.Background(), wallet.CreateRequest{Name: "cli", ChainType: "TRON"})
	require.NoError(t, err)
	assert.Equal(t, byte('T'), created.Wallet.Address[0])

	// 离线模式下余额回退为 0
	bal, err := a.Service.GetBalance(context.Background(), created.Wallet.WalletID)
	require.NoError(t, err)
	assert.True(t, bal.Fallback)

	server, err := a.NewServer()
	require.NoError(t, err)
	require.NotNil(t, server.Router())
	assert.Contains(t, a.Shutdown.Hooks(), "http_server")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	entries, err := os.ReadDir(filepath.Join(dir, "outputs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Offline: true})
	require.Error(t, err)
}

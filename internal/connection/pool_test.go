package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"custody/internal/config"
	"custody/internal/retry"
	"custody/internal/seed"
	"custody/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRPCServer 按 method 应答的 JSON-RPC 测试节点
func newRPCServer(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result interface{}
		switch req.Method {
		case "eth_chainId":
			result = "0x1"
		case "getHealth":
			result = "ok"
		default:
			result = nil
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func testChainsConfig(url string) *config.ChainsConfig {
	cfg := config.GetDefaultConfig().Chains
	cfg.ETH.RPCURL = url
	cfg.SOL.RPCURL = url
	cfg.TRON.Enabled = false
	return cfg
}

func TestPool_InitializeHealthy(t *testing.T) {
	server := newRPCServer(t, true)
	pool := NewPool(testChainsConfig(server.URL), retry.NoRetryConfig(), logrus.New())

	require.NoError(t, pool.Initialize(context.Background()))
	defer pool.Close()

	assert.ElementsMatch(t, []models.ChainType{models.ChainETH, models.ChainSOL}, pool.Registry().List())

	health := pool.CheckHealth(context.Background())
	assert.True(t, health["ETH"])
	assert.True(t, health["SOL"])

	stats := pool.GetStats()
	eth := stats["ETH"].(map[string]interface{})
	assert.Equal(t, server.URL, eth["endpoint"])
	assert.Equal(t, true, eth["healthy"])
}

func TestPool_UnhealthyNodeDoesNotBlockStartup(t *testing.T) {
	server := newRPCServer(t, false)
	pool := NewPool(testChainsConfig(server.URL), retry.NoRetryConfig(), logrus.New())

	require.NoError(t, pool.Initialize(context.Background()))
	defer pool.Close()

	health := pool.CheckHealth(context.Background())
	assert.False(t, health["ETH"])
	assert.False(t, health["SOL"])

	stats := pool.GetStats()
	sol := stats["SOL"].(map[string]interface{})
	assert.NotEmpty(t, sol["last_error"])
}

func TestPool_NoEndpointRegistersOfflineAdapter(t *testing.T) {
	cfg := config.GetDefaultConfig().Chains
	cfg.ETH.RPCURL = ""
	cfg.SOL.Enabled = false
	cfg.TRON.Enabled = false

	pool := NewPool(cfg, retry.NoRetryConfig(), logrus.New())
	require.NoError(t, pool.Initialize(context.Background()))

	assert.Equal(t, []models.ChainType{models.ChainETH}, pool.Registry().List())
	assert.Empty(t, pool.CheckHealth(context.Background()))
	require.NoError(t, pool.Close())
	// 重复关闭是安全的
	require.NoError(t, pool.Close())
}

func TestPool_NoChainsEnabled(t *testing.T) {
	cfg := config.GetDefaultConfig().Chains
	cfg.ETH.Enabled, cfg.SOL.Enabled, cfg.TRON.Enabled = false, false, false

	pool := NewPool(cfg, retry.NoRetryConfig(), logrus.New())
	assert.Error(t, pool.Initialize(context.Background()))
}

func TestPool_HealthCheckLoopStops(t *testing.T) {
	server := newRPCServer(t, true)
	pool := NewPool(testChainsConfig(server.URL), retry.NoRetryConfig(), logrus.New())
	require.NoError(t, pool.Initialize(context.Background()))

	pool.StartHealthCheck()
	require.NoError(t, pool.Close())
}

func TestOfflineRegistry(t *testing.T) {
	registry, err := OfflineRegistry(config.GetDefaultConfig().Chains, logrus.New())
	require.NoError(t, err)

	seedBytes, err := seed.DeriveSeed("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	require.NoError(t, err)

	for _, chainType := range []models.ChainType{models.ChainETH, models.ChainSOL, models.ChainTRON} {
		adapter, err := registry.Get(chainType)
		require.NoError(t, err)
		key, err := adapter.DeriveAddress(seedBytes)
		require.NoError(t, err)
		assert.NotEmpty(t, key.Address)
	}

	eth, _ := registry.Get(models.ChainETH)
	key, _ := eth.DeriveAddress(seedBytes)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", key.Address)
}

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewLogger_TextDebug(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "debug", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewLogger(&LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "custody.log")
	logger, err := NewLogger(&LogConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	NewWalletLogger(logger, "w-1", "ETH").Info("钱包已创建")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"wallet_id":"w-1"`)
	assert.Contains(t, string(data), `"component":"wallet"`)
}

func TestComponentLoggers(t *testing.T) {
	base := logrus.New()

	tx := NewTransactionLogger(base, "w-1", "tx-1")
	assert.Equal(t, "transaction", tx.Data["component"])
	assert.Equal(t, "tx-1", tx.Data["tx_id"])

	rpc := NewRPCLogger(base, "SOL", "https://api.mainnet-beta.solana.com")
	assert.Equal(t, "SOL", rpc.Data["chain_type"])
	assert.Equal(t, "rpc_client", rpc.Data["component"])
}

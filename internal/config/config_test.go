package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresContractAddress(t *testing.T) {
	t.Setenv("AGENTMAIL_CHAIN_CONTRACT_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain.contract_address")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AGENTMAIL_CHAIN_CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000aa")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "https://testnet-rpc.monad.xyz", cfg.Chain.RPCURL)
	assert.Equal(t, int64(10143), cfg.Chain.ChainID)
	assert.Equal(t, uint64(0), cfg.Chain.BackfillFrom)
	assert.Equal(t, "https://api.mail.tm", cfg.Provider.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 4.0, cfg.Provider.RPS)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Database.Type)
	assert.Empty(t, cfg.Redis.Address)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.Task.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Task.ReplayInterval)
	assert.Equal(t, 100, cfg.Task.ReplayBatch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTMAIL_CHAIN_CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("AGENTMAIL_SERVER_PORT", "8080")
	t.Setenv("AGENTMAIL_CHAIN_RPC_URL", "wss://rpc.example.org")
	t.Setenv("AGENTMAIL_CHAIN_BACKFILL_FROM", "12345")
	t.Setenv("AGENTMAIL_PROVIDER_BASE_URL", "https://provider.example.org/")
	t.Setenv("AGENTMAIL_DATABASE_TYPE", "postgres")
	t.Setenv("AGENTMAIL_DATABASE_DSN", "host=localhost user=app dbname=agentmail")
	t.Setenv("AGENTMAIL_CORS_ALLOWED_ORIGINS", "https://a.example.org, https://b.example.org")
	t.Setenv("AGENTMAIL_TASK_SWEEP_INTERVAL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "wss://rpc.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, uint64(12345), cfg.Chain.BackfillFrom)
	// 末尾斜杠被归一化
	assert.Equal(t, "https://provider.example.org", cfg.Provider.BaseURL)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Task.SweepInterval)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("AGENTMAIL_CHAIN_CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("AGENTMAIL_TASK_SWEEP_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task.sweep_interval")
}

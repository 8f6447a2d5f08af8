package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanet/pkg/domain"
	"pharmanet/testutil"
)

func TestConfigDoesNotReachIntoInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "config is shared by every binary")
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "pharmanet.db", cfg.Ledger.SQLitePath)
	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, "./pharmanet-archives", cfg.Blob.FSRoot)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Chaincode.External())

	dir, err := cfg.Orgs.Directory()
	require.NoError(t, err)
	org, err := dir.Resolve("retailerMSP")
	require.NoError(t, err)
	assert.Equal(t, domain.OrgRetailer, org)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PHARMANET_LEDGER_DRIVER", "leveldb")
	t.Setenv("PHARMANET_ORGS_TRANSPORTER", "carrierMSP")
	t.Setenv("PHARMANET_BLOB_S3_PATH_STYLE", "true")
	t.Setenv("PHARMANET_CHAINCODE_ADDRESS", "0.0.0.0:9999")
	t.Setenv("PHARMANET_CHAINCODE_ID", "pharmanet:abc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "leveldb", cfg.Ledger.Driver)
	assert.Equal(t, "carrierMSP", cfg.Orgs.Transporter)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.True(t, cfg.Chaincode.External())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pharmanet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nledger:\n  driver: memory\n"), 0o600))
	t.Setenv("PHARMANET_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, "warn", cfg.Log.Level, "environment wins over file")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDirectoryRejectsDuplicateMSP(t *testing.T) {
	orgs := OrgsConfig{
		Manufacturer: "sameMSP",
		Distributor:  "sameMSP",
		Retailer:     "r",
		Transporter:  "t",
		Consumer:     "c",
	}
	_, err := orgs.Directory()
	assert.Error(t, err)
}

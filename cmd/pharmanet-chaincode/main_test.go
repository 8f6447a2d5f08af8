package main

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanet/internal/infra/fabric"
	"pharmanet/pkg/config"
	"pharmanet/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewAppRegistersContract(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, logger.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Nil(t, a.metrics, "metrics are off without an address")
	assert.Equal(t, "pharmanet", a.cc.Info.Title)
	assert.Equal(t, fabric.ContractName, a.cc.DefaultContract)
}

func TestNewAppServesMetricsWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	reg := prometheus.NewRegistry()
	a, err := newApp(cfg, logger.Nop(), reg)
	require.NoError(t, err)
	require.NotNil(t, a.metrics)
	assert.Equal(t, "127.0.0.1:0", a.metrics.Addr)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestNewAppRejectsDuplicateMSP(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orgs.Retailer = cfg.Orgs.Distributor
	_, err := newApp(cfg, logger.Nop(), prometheus.NewRegistry())
	require.ErrorContains(t, err, "organisation directory")
}

func TestCLIFlagErrors(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, cli([]string{"--bogus"}, &stderr))
	assert.Contains(t, stderr.String(), "unknown flag")

	stderr.Reset()
	assert.Equal(t, 0, cli([]string{"--help"}, &stderr))

	stderr.Reset()
	assert.Equal(t, 1, cli([]string{"--config", "/does/not/exist.yaml"}, &stderr))
	assert.Contains(t, stderr.String(), "read config")
}

// Command pharmanet-chaincode runs the custody contract on a Fabric peer,
// either launched by the peer or as an external chaincode service.
package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"pharmanet/internal/core"
	"pharmanet/internal/infra/fabric"
	"pharmanet/pkg/config"
	"pharmanet/pkg/logger"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stderr))
}

func cli(args []string, stderr io.Writer) int {
	flags := pflag.NewFlagSet("pharmanet-chaincode", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to pharmanet.yaml")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "pharmanet-chaincode: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Output: stderr})

	app, err := newApp(cfg, log, prometheus.NewRegistry())
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	if err := app.run(); err != nil {
		log.Error().Err(err).Msg("chaincode stopped")
		return 1
	}
	return 0
}

type app struct {
	cfg     *config.Config
	log     *logger.Logger
	cc      *contractapi.ContractChaincode
	metrics *http.Server
}

func newApp(cfg *config.Config, log *logger.Logger, reg *prometheus.Registry) (*app, error) {
	dir, err := cfg.Orgs.Directory()
	if err != nil {
		return nil, fmt.Errorf("organisation directory: %w", err)
	}
	opts := []core.Option{
		core.WithOrgDirectory(dir),
		core.WithLogger(log),
		core.WithAuditRecorder(core.NewLogAuditRecorder(log)),
	}
	if cfg.Metrics.Addr != "" {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, core.WithMetricsRecorder(recorder))
	}

	contract := fabric.NewContract(core.NewCustody(opts...), log, version)
	cc, err := contractapi.NewChaincode(contract)
	if err != nil {
		return nil, fmt.Errorf("create chaincode: %w", err)
	}
	cc.Info.Title = cfg.App.Name
	cc.Info.Version = version

	a := &app{cfg: cfg, log: log.Component("chaincode"), cc: cc}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		a.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return a, nil
}

func (a *app) run() error {
	if a.metrics != nil {
		go func() {
			a.log.Info().Str("addr", a.metrics.Addr).Msg("serving metrics")
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() { _ = a.metrics.Close() }()
	}

	if a.cfg.Chaincode.External() {
		server := &shim.ChaincodeServer{
			CCID:     a.cfg.Chaincode.ID,
			Address:  a.cfg.Chaincode.Address,
			CC:       a.cc,
			TLSProps: shim.TLSProperties{Disabled: true},
		}
		a.log.Info().Str("address", server.Address).Str("ccid", server.CCID).Msg("starting chaincode service")
		return server.Start()
	}
	a.log.Info().Str("version", version).Msg("starting chaincode")
	return a.cc.Start()
}

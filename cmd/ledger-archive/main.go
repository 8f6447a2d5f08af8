// Command ledger-archive exports, verifies and restores snapshots of a local
// pharmanet ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"pharmanet/internal/archive"
	"pharmanet/internal/blob"
	"pharmanet/internal/core"
	"pharmanet/pkg/config"
	"pharmanet/pkg/logger"
)

const usage = `Usage:
  ledger-archive export  [--config FILE]
  ledger-archive verify  [--config FILE] [--key KEY]
  ledger-archive restore [--config FILE] [--key KEY]
  ledger-archive list    [--config FILE]

verify and restore use the most recent snapshot unless --key is given.
restore requires the configured ledger to be empty.
`

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type options struct {
	configPath string
	key        string
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	command := args[0]
	flags := pflag.NewFlagSet("ledger-archive "+command, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var opts options
	flags.StringVar(&opts.configPath, "config", "", "path to pharmanet.yaml")
	if command == "verify" || command == "restore" {
		flags.StringVar(&opts.key, "key", "", "snapshot blob key (default: latest)")
	}
	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "ledger-archive: unexpected argument %q\n", flags.Arg(0))
		return 2
	}

	out, err := run(ctx, command, opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ledger-archive %s: %v\n", command, err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "ledger-archive: write output: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, command string, opts options, stderr io.Writer) (any, error) {
	switch command {
	case "export", "verify", "restore", "list":
	default:
		return nil, fmt.Errorf("unknown command (want export, verify, restore or list)")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Output: stderr})
	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	arch := archive.New(store, archive.WithLogger(log))

	switch command {
	case "list":
		return arch.List(ctx)
	case "verify":
		key, err := resolveKey(ctx, arch, opts.key)
		if err != nil {
			return nil, err
		}
		return arch.Verify(ctx, key)
	}

	ledger, err := core.OpenPersistentStore(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close ledger")
		}
	}()

	if command == "export" {
		src, ok := ledger.(archive.Source)
		if !ok {
			return nil, fmt.Errorf("ledger driver %s cannot be exported", cfg.Ledger.Driver)
		}
		return arch.Export(ctx, src)
	}
	dst, ok := ledger.(archive.Target)
	if !ok {
		return nil, fmt.Errorf("ledger driver %s cannot be restored", cfg.Ledger.Driver)
	}
	key, err := resolveKey(ctx, arch, opts.key)
	if err != nil {
		return nil, err
	}
	return arch.Restore(ctx, key, dst)
}

func resolveKey(ctx context.Context, arch *archive.Archiver, key string) (string, error) {
	if key != "" {
		return key, nil
	}
	latest, err := arch.Latest(ctx)
	if err != nil {
		return "", err
	}
	return latest.Key, nil
}

package main

// ---------------------------------------------------------------------------
// cmd_up.go - start the pauseguard engine and API server
// ---------------------------------------------------------------------------

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pauseguard/pauseguard/internal/api"
	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/guard"
)

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	dryRunPauses := fs.Bool("dry-run-pauses", false, "Build pause transactions but never submit them")
	validate := fs.Bool("validate", false, "Validate config and exit")
	quiet := fs.Bool("quiet", false, "Suppress banner and non-essential output")
	fs.BoolVar(quiet, "q", false, "Suppress banner and non-essential output")
	noColor := fs.Bool("no-color", false, "Disable color output")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}
	if !*quiet {
		fmt.Fprint(os.Stderr, bannerText())
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *dryRunPauses {
		cfg.Executor.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		for _, e := range unwrapJoined(err) {
			fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), e)
		}
		errorf("config validation failed")
	}
	if !*quiet {
		for _, w := range configWarnings(cfg) {
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
		}
	}
	if *validate {
		fmt.Fprintf(os.Stdout, "%s Config valid.\n", green("✓"))
		os.Exit(0)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s Starting pauseguard engine...\n", dim("▸"))
	}

	engine, err := guard.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		errorf("starting engine: %v", err)
	}

	srv := api.NewServer(engine)
	if err := srv.Start(); err != nil {
		engine.Shutdown()
		errorf("starting API server: %v", err)
	}

	if !*quiet {
		mode := green("live")
		if cfg.Executor.DryRun {
			mode = yellow("dry-run")
		}
		fmt.Fprintf(os.Stderr, "%s pauseguard running: %d source(s), %d contract(s), pauses %s, API on :%d\n",
			green("✓"), engine.Sources.Count(), engine.Status().Contracts, mode, cfg.Server.Port)
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	if !*quiet {
		fmt.Fprintf(os.Stderr, "\n%s Received %s, shutting down...\n", dim("▸"), sig)
	}
	if err := srv.Stop(); err != nil {
		warnf("stopping API server: %v", err)
	}
	if err := engine.Shutdown(); err != nil {
		warnf("engine shutdown: %v", err)
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s Stopped.\n", green("✓"))
	}
}

// unwrapJoined flattens an errors.Join result.
func unwrapJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

// configWarnings lists settings that start fine but limit what the engine
// can do.
func configWarnings(cfg *core.Config) []string {
	var out []string
	if cfg.Chain.RPCURL == "" {
		out = append(out, "chain.rpc_url is empty: no transactions will be watched and pauses cannot be sent")
	} else if cfg.Chain.PrivateKey == "" && !cfg.Executor.DryRun {
		out = append(out, "no operator key (chain.private_key or PAUSEGUARD_PRIVATE_KEY): pauses will fail")
	}
	if !cfg.AuthEnabled() {
		out = append(out, "no API keys configured: the API is open to anyone who can reach it")
	}
	if cfg.Server.PauseSecret == "" {
		out = append(out, "no pause_secret: the emergency pause endpoint is disabled")
	}
	if cfg.Monitor.Enabled && cfg.Monitor.URL == "" {
		out = append(out, "monitor.enabled is set but monitor.url is empty")
	}
	return out
}

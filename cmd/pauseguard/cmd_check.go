package main

// ---------------------------------------------------------------------------
// cmd_check.go - pre-flight diagnostics
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pauseguard/pauseguard/internal/core"
)

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	results := runChecks(*configPath)

	failed := 0
	for _, r := range results {
		if r.Status == "fail" {
			failed++
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, r := range results {
			marker := green("✓")
			switch r.Status {
			case "fail":
				marker = red("✗")
			case "warn":
				marker = yellow("⚠")
			}
			fmt.Printf("  %s %-16s %s\n", marker, r.Name, dim(r.Detail))
		}
		fmt.Println()
		if failed == 0 {
			fmt.Printf("%s All checks passed.\n", green("✓"))
		} else {
			fmt.Printf("%s %d check(s) failed.\n", red("✗"), failed)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runChecks(configPath string) []checkResult {
	results := make([]checkResult, 0)
	pass := func(name, detail string) { results = append(results, checkResult{name, "pass", detail}) }
	fail := func(name, detail string) { results = append(results, checkResult{name, "fail", detail}) }
	warn := func(name, detail string) { results = append(results, checkResult{name, "warn", detail}) }

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		fail("config", fmt.Sprintf("failed to load %s: %v", configPath, err))
		return results
	}
	pass("config", fmt.Sprintf("loaded %s", configPath))

	if err := cfg.Validate(); err != nil {
		for _, e := range unwrapJoined(err) {
			fail("validation", e.Error())
		}
	} else {
		pass("validation", "config is consistent")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		fail("api_port", fmt.Sprintf("port %d is already in use", cfg.Server.Port))
	} else {
		ln.Close()
		pass("api_port", fmt.Sprintf("port %d is available", cfg.Server.Port))
	}

	if cfg.Bus.Enabled && cfg.Bus.Embedded {
		if cfg.Bus.Port == cfg.Server.Port {
			fail("nats_port", fmt.Sprintf("API port and NATS port are both %d", cfg.Bus.Port))
		} else if ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Bus.Port)); err != nil {
			fail("nats_port", fmt.Sprintf("port %d is already in use", cfg.Bus.Port))
		} else {
			ln.Close()
			pass("nats_port", fmt.Sprintf("port %d is available", cfg.Bus.Port))
		}
	}

	switch {
	case cfg.Chain.RPCURL == "":
		warn("chain", "no rpc_url: transactions are not watched and pauses cannot be sent")
	case !strings.HasPrefix(cfg.Chain.RPCURL, "ws") && !cfg.Chain.Polling:
		warn("chain", "HTTP endpoint without polling: the watcher will fall back to polling")
	default:
		pass("chain", cfg.Chain.RPCURL)
	}

	switch {
	case cfg.Executor.DryRun:
		warn("operator_key", "dry run: pauses are built but never submitted")
	case cfg.Chain.PrivateKey == "":
		warn("operator_key", "no chain.private_key or PAUSEGUARD_PRIVATE_KEY: pauses will fail")
	default:
		pass("operator_key", "operator key configured")
	}

	if cfg.Server.PauseSecret == "" {
		warn("pause_secret", "emergency pause endpoint disabled")
	} else {
		pass("pause_secret", "emergency pause endpoint enabled")
	}
	if cfg.AuthEnabled() {
		pass("api_auth", fmt.Sprintf("%d API key(s) configured", len(cfg.Server.APIKeys)))
	} else {
		warn("api_auth", "no API keys: the API is unauthenticated")
	}

	if cfg.Journal.Store == "file" {
		dir := filepath.Dir(cfg.Journal.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fail("journal_dir", fmt.Sprintf("cannot create %s: %v", dir, err))
		} else {
			testFile := filepath.Join(dir, ".pauseguard-check")
			if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
				fail("journal_dir", fmt.Sprintf("cannot write to %s: %v", dir, err))
			} else {
				os.Remove(testFile)
				pass("journal_dir", fmt.Sprintf("%s is writable", dir))
			}
		}
	}

	if cfg.Monitor.Enabled && cfg.Monitor.URL == "" {
		fail("monitor", "monitor.enabled is set but monitor.url is empty")
	}
	return results
}

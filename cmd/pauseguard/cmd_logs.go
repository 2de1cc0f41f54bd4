package main

// ---------------------------------------------------------------------------
// cmd_logs.go - fetch recent logs from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pauseguard/pauseguard/internal/core"
)

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	component := fs.String("component", "", "Only lines from this component (e.g. responder, monitor)")
	limit := fs.Int("limit", 100, "Maximum lines to show")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *component != "" {
		q.Set("component", *component)
	}
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	body, err := apiGet(base+"/api/v1/logs?"+q.Encode(), resolveAPIKey(*apiKeyFlag, *configPath), *timeout)
	if err != nil {
		errorf("%v", err)
	}
	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var resp struct {
		Logs []core.LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	for _, e := range resp.Logs {
		comp := ""
		if e.Component != "" {
			comp = cyan("[" + e.Component + "] ")
		}
		fmt.Printf("%s %-5s %s%s\n", dim(e.Timestamp.Format("15:04:05")), logLevelColor(e.Level), comp, e.Message)
	}
}

func logLevelColor(level string) string {
	switch level {
	case "error", "fatal", "panic":
		return red(level)
	case "warn":
		return yellow(level)
	case "debug", "trace":
		return dim(level)
	default:
		return green(level)
	}
}

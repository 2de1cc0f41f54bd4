package main

// ---------------------------------------------------------------------------
// cmd_events.go - list, inspect and clear journaled threat events
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pauseguard/pauseguard/internal/core"
)

func cmdEvents(args []string) {
	positional, rest := splitArgs(args)
	sub := "list"
	if len(positional) > 0 {
		sub = positional[0]
	}

	fs := flag.NewFlagSet("events", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	minLevel := fs.String("min-level", "", "Minimum threat level: INFO, LOW, MEDIUM, HIGH, CRITICAL")
	contract := fs.String("contract", "", "Only events for this contract")
	limit := fs.Int("limit", 50, "Maximum events to show")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	output := fs.String("output", "", "Write output to file")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Parse(rest)

	*configPath = envConfig(*configPath)
	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)

	switch sub {
	case "list":
		q := url.Values{}
		q.Set("limit", strconv.Itoa(*limit))
		if *minLevel != "" {
			q.Set("min_level", *minLevel)
		}
		if *contract != "" {
			q.Set("contract", *contract)
		}
		body, err := apiGet(base+"/api/v1/events?"+q.Encode(), apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		w, cleanup := outputWriter(*output)
		defer cleanup()
		if outFmt == FormatJSON {
			fmt.Fprintln(w, string(body))
			return
		}
		var resp struct {
			Events []core.ThreatEvent `json:"events"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			errorf("parsing response: %v", err)
		}
		renderEvents(w, resp.Events, outFmt)

	case "show":
		if len(positional) < 2 {
			errorf("usage: pauseguard events show <id>")
		}
		body, err := apiGet(base+"/api/v1/events/"+url.PathEscape(positional[1]), apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		if outFmt == FormatJSON {
			fmt.Fprintln(os.Stdout, string(body))
			return
		}
		var ev core.ThreatEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			errorf("parsing response: %v", err)
		}
		printEvent(ev)

	case "clear":
		body, err := apiPost(base+"/api/v1/events/clear", nil, apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		var resp struct {
			Cleared int `json:"cleared"`
		}
		json.Unmarshal(body, &resp)
		fmt.Fprintf(os.Stdout, "%s Cleared %d event(s).\n", green("✓"), resp.Cleared)

	default:
		errorf("unknown events subcommand %q (list, show, clear)", sub)
	}
}

func renderEvents(w *os.File, events []core.ThreatEvent, outFmt OutputFormat) {
	if outFmt == FormatCSV {
		rows := make([][]string, 0, len(events))
		for _, ev := range events {
			rows = append(rows, []string{
				ev.ID, unixTime(ev.Timestamp), ev.Level.String(), ev.ContractAddress,
				ev.TransactionHash, ev.OriginAddress, string(ev.ActionTaken),
				strconv.Itoa(ev.Score), ev.Details,
			})
		}
		writeCSV(w, []string{"id", "time", "level", "contract", "tx", "origin", "action", "score", "details"}, rows)
		return
	}
	if len(events) == 0 {
		fmt.Fprintf(w, "%s No threat events.\n", dim("▸"))
		return
	}
	t := NewTable(w, "TIME", "LEVEL", "CONTRACT", "TX", "ACTION", "SCORE")
	for _, ev := range events {
		score := "-"
		if ev.Score > 0 {
			score = strconv.Itoa(ev.Score)
		}
		t.AddRow(unixTime(ev.Timestamp), ev.Level.String(), shortAddr(ev.ContractAddress),
			shortAddr(ev.TransactionHash), string(ev.ActionTaken), score)
	}
	t.Render()
}

func printEvent(ev core.ThreatEvent) {
	fmt.Printf("%s %s\n\n", bold("●"), ev.ID)
	fmt.Printf("  %-14s %s\n", "Time:", unixTime(ev.Timestamp))
	fmt.Printf("  %-14s %s\n", "Level:", levelColor(ev.Level.String()))
	fmt.Printf("  %-14s %s\n", "Contract:", ev.ContractAddress)
	fmt.Printf("  %-14s %s\n", "Transaction:", ev.TransactionHash)
	fmt.Printf("  %-14s %s\n", "Origin:", ev.OriginAddress)
	fmt.Printf("  %-14s %s\n", "Action:", ev.ActionTaken)
	fmt.Printf("  %-14s %.2f\n", "Confidence:", ev.Confidence)
	if ev.Score > 0 {
		fmt.Printf("  %-14s %d\n", "Score:", ev.Score)
	}
	if ev.ValueTransferred != "" {
		fmt.Printf("  %-14s %s\n", "Value:", ev.ValueTransferred)
	}
	fmt.Printf("  %-14s %s\n", "Details:", ev.Details)
	for _, f := range ev.Factors {
		fmt.Printf("    %s %s\n", dim("-"), f)
	}
}

package main

// ---------------------------------------------------------------------------
// cmd_contracts.go - manage protected contracts
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pauseguard/pauseguard/internal/lifecycle"
)

func cmdContracts(args []string) {
	positional, rest := splitArgs(args)
	sub := "list"
	if len(positional) > 0 {
		sub = positional[0]
	}

	fs := flag.NewFlagSet("contracts", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	owner := fs.String("owner", "", "Owner address (add)")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	timeout := fs.Duration("timeout", 3*time.Minute, "Request timeout (registration waits for the scan)")
	fs.Parse(rest)

	*configPath = envConfig(*configPath)
	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)

	needAddr := func() string {
		if len(positional) < 2 {
			errorf("usage: pauseguard contracts %s <address>", sub)
		}
		return positional[1]
	}

	switch sub {
	case "list", "ls":
		body, err := apiGet(base+"/api/v1/contracts", apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		if outFmt == FormatJSON {
			fmt.Fprintln(os.Stdout, string(body))
			return
		}
		var resp struct {
			Contracts []lifecycle.MonitoredContract `json:"contracts"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			errorf("parsing response: %v", err)
		}
		renderContracts(resp.Contracts, outFmt)

	case "add":
		addr := needAddr()
		payload, _ := json.Marshal(map[string]string{"address": addr, "owner": *owner})
		fmt.Fprintf(os.Stderr, "%s Registering %s and scanning...\n", dim("▸"), addr)
		body, err := apiPost(base+"/api/v1/contracts", payload, apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		printContractResult(body, outFmt, "registered")

	case "show":
		body, err := apiGet(base+"/api/v1/contracts/"+needAddr(), apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		printContractResult(body, outFmt, "")

	case "confirm":
		body, err := apiPost(base+"/api/v1/contracts/"+needAddr()+"/confirm", nil, apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		printContractResult(body, outFmt, "pause permission confirmed")

	case "refresh":
		body, err := apiPost(base+"/api/v1/contracts/"+needAddr()+"/refresh", nil, apiKey, *timeout)
		if err != nil {
			errorf("%v", err)
		}
		printContractResult(body, outFmt, "pause state refreshed")

	case "remove", "rm":
		addr := needAddr()
		if _, err := apiDelete(base+"/api/v1/contracts/"+addr, apiKey, *timeout); err != nil {
			errorf("%v", err)
		}
		fmt.Fprintf(os.Stdout, "%s %s deregistered.\n", green("✓"), addr)

	default:
		errorf("unknown contracts subcommand %q (list, add, show, confirm, refresh, remove)", sub)
	}
}

func renderContracts(contracts []lifecycle.MonitoredContract, outFmt OutputFormat) {
	riskOf := func(mc lifecycle.MonitoredContract) string {
		if mc.RiskScore == nil {
			return "-"
		}
		return strconv.Itoa(*mc.RiskScore)
	}
	if outFmt == FormatCSV {
		rows := make([][]string, 0, len(contracts))
		for _, mc := range contracts {
			rows = append(rows, []string{mc.Address, string(mc.State), strconv.FormatBool(mc.IsPaused),
				strconv.Itoa(mc.TotalEvents), riskOf(mc), unixTime(mc.LastActivity)})
		}
		writeCSV(os.Stdout, []string{"address", "state", "paused", "events", "risk", "last_activity"}, rows)
		return
	}
	if len(contracts) == 0 {
		fmt.Printf("%s No contracts registered.\n", dim("▸"))
		return
	}
	t := NewTable(os.Stdout, "ADDRESS", "STATE", "PAUSED", "EVENTS", "RISK", "LAST ACTIVITY")
	for _, mc := range contracts {
		t.AddRow(mc.Address, string(mc.State), strconv.FormatBool(mc.IsPaused),
			strconv.Itoa(mc.TotalEvents), riskOf(mc), unixTime(mc.LastActivity))
	}
	t.Render()
}

func printContractResult(body []byte, outFmt OutputFormat, verb string) {
	if outFmt == FormatJSON {
		fmt.Fprintln(os.Stdout, string(body))
		return
	}
	var mc lifecycle.MonitoredContract
	if err := json.Unmarshal(body, &mc); err != nil {
		errorf("parsing response: %v", err)
	}
	if verb != "" {
		fmt.Printf("%s %s %s\n\n", green("✓"), mc.Address, verb)
	}
	fmt.Printf("  %-16s %s\n", "State:", mc.State)
	fmt.Printf("  %-16s %v\n", "Paused:", mc.IsPaused)
	if mc.Owner != "" {
		fmt.Printf("  %-16s %s\n", "Owner:", mc.Owner)
	}
	if mc.RiskScore != nil {
		fmt.Printf("  %-16s %d\n", "Risk Score:", *mc.RiskScore)
	}
	fmt.Printf("  %-16s %.2f\n", "Scan Confidence:", mc.ScanConfidence)
	fmt.Printf("  %-16s %d\n", "Events:", mc.TotalEvents)
	for _, f := range mc.Findings {
		fmt.Printf("    %s %s\n", dim("-"), f)
	}
}

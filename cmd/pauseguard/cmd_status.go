package main

// ---------------------------------------------------------------------------
// cmd_status.go - fetch status from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"
)

// statusResponse mirrors GET /api/v1/status.
type statusResponse struct {
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Engine    struct {
		Uptime   string `json:"uptime"`
		DryRun   bool   `json:"dryRun"`
		Operator string `json:"operator"`
		Policy   struct {
			Name string `json:"name"`
		} `json:"policy"`
		Chain *struct {
			Mode      string `json:"mode"`
			LastBlock uint64 `json:"lastBlock"`
		} `json:"chain"`
		Monitor *struct {
			Status            string `json:"status"`
			ReconnectAttempts int    `json:"reconnectAttempts"`
		} `json:"monitor"`
		MonitorLastBlock uint64                 `json:"monitorLastBlock"`
		Journal          map[string]int         `json:"journal"`
		Contracts        int                    `json:"contracts"`
		KnownAttackers   int                    `json:"knownAttackers"`
		Responses        map[string]interface{} `json:"responses"`
	} `json:"engine"`
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	body, err := apiGet(base+"/api/v1/status", resolveAPIKey(*apiKeyFlag, *configPath), *timeout)
	if err != nil {
		if isConnectionError(err) {
			errorf("%v\n       Is pauseguard running? Start it with %s", err, bold("pauseguard up"))
		}
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		errorf("parsing response: %v", err)
	}
	e := st.Engine

	if outFmt == FormatCSV {
		rows := [][]string{
			{"version", st.Version},
			{"status", st.Status},
			{"uptime", e.Uptime},
			{"policy", e.Policy.Name},
			{"dry_run", fmt.Sprint(e.DryRun)},
			{"contracts", fmt.Sprint(e.Contracts)},
			{"journal_live", fmt.Sprint(e.Journal["live"])},
			{"journal_persisted", fmt.Sprint(e.Journal["persisted"])},
			{"known_attackers", fmt.Sprint(e.KnownAttackers)},
			{"timestamp", st.Timestamp.Format(time.RFC3339)},
		}
		writeCSV(w, []string{"field", "value"}, rows)
		return
	}

	mode := green("live")
	if e.DryRun {
		mode = yellow("dry-run")
	}
	fmt.Fprintf(w, "%s pauseguard status\n\n", bold("●"))
	fmt.Fprintf(w, "  %-18s %s\n", "Version:", green(st.Version))
	fmt.Fprintf(w, "  %-18s %s\n", "Status:", green(st.Status))
	fmt.Fprintf(w, "  %-18s %s\n", "Uptime:", e.Uptime)
	fmt.Fprintf(w, "  %-18s %s\n", "Policy:", e.Policy.Name)
	fmt.Fprintf(w, "  %-18s %s\n", "Pauses:", mode)
	if e.Operator != "" {
		fmt.Fprintf(w, "  %-18s %s\n", "Operator:", e.Operator)
	}

	switch {
	case e.Chain == nil:
		fmt.Fprintf(w, "  %-18s %s\n", "Chain:", dim("disabled"))
	default:
		fmt.Fprintf(w, "  %-18s %s %s\n", "Chain:", green(e.Chain.Mode), dim(fmt.Sprintf("block %d", e.Chain.LastBlock)))
	}
	switch {
	case e.Monitor == nil:
		fmt.Fprintf(w, "  %-18s %s\n", "Monitor:", dim("disabled"))
	case e.Monitor.Status == "CONNECTED":
		fmt.Fprintf(w, "  %-18s %s %s\n", "Monitor:", green("connected"), dim(fmt.Sprintf("block %d", e.MonitorLastBlock)))
	default:
		fmt.Fprintf(w, "  %-18s %s %s\n", "Monitor:", red(strings.ToLower(e.Monitor.Status)), dim(fmt.Sprintf("%d reconnect attempt(s)", e.Monitor.ReconnectAttempts)))
	}

	fmt.Fprintf(w, "  %-18s %d\n", "Contracts:", e.Contracts)
	fmt.Fprintf(w, "  %-18s %d live, %d persisted\n", "Journal:", e.Journal["live"], e.Journal["persisted"])
	fmt.Fprintf(w, "  %-18s %d\n", "Known Attackers:", e.KnownAttackers)
	if total, ok := e.Responses["total_records"]; ok {
		fmt.Fprintf(w, "  %-18s %v\n", "Pause Attempts:", total)
	}
	fmt.Fprintf(w, "  %-18s %s\n", "Timestamp:", st.Timestamp.Format(time.RFC3339))
}

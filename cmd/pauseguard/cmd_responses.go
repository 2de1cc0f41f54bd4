package main

// ---------------------------------------------------------------------------
// cmd_responses.go - pause attempts and their outcomes
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

func cmdResponses(args []string) {
	fs := flag.NewFlagSet("responses", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	contract := fs.String("contract", "", "Only attempts against this contract")
	limit := fs.Int("limit", 50, "Maximum records to show")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	output := fs.String("output", "", "Write output to file")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *contract != "" {
		q.Set("contract", *contract)
	}
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	body, err := apiGet(base+"/api/v1/responses?"+q.Encode(), resolveAPIKey(*apiKeyFlag, *configPath), *timeout)
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
		Responses []core.PauseRecord `json:"responses"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	if outFmt == FormatCSV {
		rows := make([][]string, 0, len(resp.Responses))
		for _, r := range resp.Responses {
			rows = append(rows, []string{r.ID, r.Timestamp.Format(time.RFC3339), r.Contract, string(r.Source),
				string(r.Status), r.TxHash, r.ErrorClass, strconv.FormatInt(r.DurationMs, 10)})
		}
		writeCSV(w, []string{"id", "time", "contract", "source", "status", "tx", "error_class", "duration_ms"}, rows)
		return
	}
	if len(resp.Responses) == 0 {
		fmt.Fprintf(w, "%s No pause attempts recorded.\n", dim("▸"))
		return
	}
	t := NewTable(w, "TIME", "CONTRACT", "SOURCE", "STATUS", "TX / ERROR", "MS")
	for _, r := range resp.Responses {
		detail := shortAddr(r.TxHash)
		if r.ErrorClass != "" {
			detail = r.ErrorClass
		}
		t.AddRow(r.Timestamp.UTC().Format("2006-01-02 15:04:05"), shortAddr(r.Contract), string(r.Source),
			string(r.Status), detail, strconv.FormatInt(r.DurationMs, 10))
	}
	t.Render()
}

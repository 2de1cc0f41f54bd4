package main

// ---------------------------------------------------------------------------
// cmd_pause.go - operator-triggered emergency pause
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

type pauseResult struct {
	Success       bool   `json:"success"`
	TxHash        string `json:"txHash"`
	AlreadyPaused bool   `json:"alreadyPaused"`
	DryRun        bool   `json:"dryRun"`
	RecordID      string `json:"recordId"`
	ErrorClass    string `json:"errorClass"`
	Error         string `json:"error"`
}

func cmdPause(args []string) {
	positional, rest := splitArgs(args)

	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	secretFlag := fs.String("secret", "", "Pause secret (env: PAUSEGUARD_PAUSE_SECRET)")
	vuln := fs.String("vuln", "", "32-byte hex reference of the vulnerability")
	source := fs.String("source", "cli", "Who is requesting the pause")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	timeout := fs.Duration("timeout", 3*time.Minute, "Request timeout (the server waits for confirmation)")
	fs.Parse(rest)

	if len(positional) < 1 || *vuln == "" {
		errorf("usage: pauseguard pause <address> --vuln <hash>")
	}
	*configPath = envConfig(*configPath)
	secret := resolvePauseSecret(*secretFlag, *configPath)
	if secret == "" {
		errorf("no pause secret: pass --secret or set PAUSEGUARD_PAUSE_SECRET")
	}

	payload, _ := json.Marshal(map[string]string{
		"target":   positional[0],
		"vulnHash": *vuln,
		"source":   *source,
	})
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	fmt.Fprintf(os.Stderr, "%s Requesting emergency pause of %s...\n", dim("▸"), positional[0])
	body, err := apiDo(http.MethodPost, base+"/api/v1/emergency-pause", payload,
		map[string]string{"X-Pause-Secret": secret}, *timeout)

	// A failed pause still carries a result body (502).
	var apiErr *apiError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway) {
		if apiErr != nil && apiErr.Status == http.StatusUnauthorized {
			errorf("pause secret rejected")
		}
		errorf("%v", err)
	}
	if *jsonOut {
		fmt.Println(string(body))
		if err != nil {
			os.Exit(1)
		}
		return
	}

	var res pauseResult
	if jerr := json.Unmarshal(body, &res); jerr != nil {
		errorf("parsing response: %v", jerr)
	}
	switch {
	case res.DryRun:
		fmt.Printf("%s Dry run: pause built but not submitted %s\n", yellow("●"), dim(res.RecordID))
	case res.AlreadyPaused:
		fmt.Printf("%s Contract was already paused %s\n", green("✓"), dim(res.RecordID))
	case res.Success:
		fmt.Printf("%s Contract paused in %s\n", green("✓"), bold(res.TxHash))
	case res.TxHash != "":
		fmt.Printf("%s Pause submitted but not yet confirmed: %s\n", yellow("●"), res.TxHash)
	default:
		fmt.Fprintf(os.Stderr, "%s Pause failed [%s]: %s\n", red("✗"), res.ErrorClass, res.Error)
		os.Exit(1)
	}
}

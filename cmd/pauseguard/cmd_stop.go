package main

// ---------------------------------------------------------------------------
// cmd_stop.go - ask a running instance to shut down
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func cmdStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	base := apiBase(*configPath, envHost(*host), envPort(*port))
	if _, err := apiPost(base+"/api/v1/shutdown", nil, resolveAPIKey(*apiKeyFlag, *configPath), *timeout); err != nil {
		if isConnectionError(err) {
			errorf("no running instance at %s", base)
		}
		errorf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "%s Shutdown requested.\n", green("✓"))
}

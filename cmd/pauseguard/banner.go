package main

// ---------------------------------------------------------------------------
// banner.go - banner, version and usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	art := `
    ┌─────────────────────────────────────────────┐
    │   P A U S E G U A R D                       │
    │   threat detection + autonomous pause       │
    └─────────────────────────────────────────────┘
`
	if !colorEnabled() {
		return art
	}
	return "\033[36m" + art + "\033[0m"
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "pauseguard v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  pauseguard <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s  %s\n", bold(c.name), c.summary)
	}
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: "+defaultConfigPath+", env: PAUSEGUARD_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--api-key <key>", "API key (env: PAUSEGUARD_API_KEY)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--format <fmt>", "Output format: table, json, csv (default: table)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-26s  %s\n", "PAUSEGUARD_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-26s  %s\n", "PAUSEGUARD_HOST", "API host override")
	fmt.Fprintf(w, "  %-26s  %s\n", "PAUSEGUARD_PORT", "API port override")
	fmt.Fprintf(w, "  %-26s  %s\n", "PAUSEGUARD_API_KEY", "API key for authentication")
	fmt.Fprintf(w, "  %-26s  %s\n", "PAUSEGUARD_PAUSE_SECRET", "Shared secret for emergency pauses")
	fmt.Fprintf(w, "  %-26s  %s\n", "PAUSEGUARD_PRIVATE_KEY", "Operator key used to submit pause transactions")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start in dry-run mode"))
	fmt.Fprintf(w, "  pauseguard up --dry-run-pauses\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Show critical threats for one contract"))
	fmt.Fprintf(w, "  pauseguard events --min-level CRITICAL --contract 0xabc...\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Register a contract for protection"))
	fmt.Fprintf(w, "  pauseguard contracts add 0xabc... --owner 0xdef...\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Pause a contract now"))
	fmt.Fprintf(w, "  pauseguard pause 0xabc... --vuln 0x<32-byte hash>\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("pauseguard help <command>"))
}

type command struct {
	name    string
	summary string
	usage   string
}

var commands = []command{
	{"up", "Start the pauseguard engine and API", "pauseguard up [--config path] [--log-level lvl] [--dry-run-pauses] [--validate] [-q]"},
	{"status", "Show status of a running instance", "pauseguard status [--format table|json|csv] [--output file]"},
	{"events", "List threat events from the journal", "pauseguard events [--min-level LVL] [--contract addr] [--limit n] | events show <id> | events clear"},
	{"contracts", "List, register, confirm, refresh or remove contracts", "pauseguard contracts [list] | add <addr> [--owner addr] | show|confirm|refresh|remove <addr>"},
	{"responses", "Show pause attempts and their outcomes", "pauseguard responses [--contract addr] [--limit n]"},
	{"pause", "Trigger an emergency pause of a contract", "pauseguard pause <addr> --vuln <hash> [--secret s] [--source name]"},
	{"logs", "Fetch recent logs from a running instance", "pauseguard logs [--component name] [--limit n]"},
	{"check", "Validate config and run pre-flight checks", "pauseguard check [--json]"},
	{"stop", "Gracefully stop a running instance", "pauseguard stop"},
	{"version", "Print version and build info", "pauseguard version"},
	{"help", "Show help for a command", "pauseguard help <command>"},
}

func cmdHelp(name string) {
	for _, c := range commands {
		if c.name == name {
			fmt.Fprintf(os.Stdout, "%s  %s\n\n  %s\n", bold(c.name), c.summary, c.usage)
			return
		}
	}
	fmt.Fprintf(os.Stderr, red("error: ")+"no help for %q\n", name)
	if s := suggest(name); s != "" {
		fmt.Fprintf(os.Stderr, "       Did you mean %s?\n", bold(s))
	}
	os.Exit(1)
}

package main

import (
	"fmt"
	"os"

	"github.com/wattscope/wattscope/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "setup":
		cmdSetup(os.Args[2:])
	case "secret":
		cmdSecret(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: wattscope <command> [options]

Commands:
  start        Start the wattscope daemon
  stop         Stop the running daemon
  status       Show daemon status and consumption summary
  setup        Interactive setup wizard
  secret       Manage stored secrets (list|set|delete <account>)
  init-config  Generate default config file
  version      Print version information
  help         Show this help message

Options:
  --foreground      Run in foreground (with 'start')
  --config <file>   Use an explicit config file (with 'start')
  --non-interactive  Skip interactive prompts (with 'setup')`)
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/wattscope/wattscope/internal/config"
	"github.com/wattscope/wattscope/internal/daemon"
	"github.com/wattscope/wattscope/internal/vault"
)

func cmdStart(args []string) {
	foreground := false
	configPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--foreground", "-f":
			foreground = true
		case "--config":
			if i+1 < len(args) {
				i++
				configPath = args[i]
			}
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Run(cfg, foreground); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop() {
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wattscope stopped")
}

func cmdStatus() {
	if err := daemon.Status(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cmdSetup walks through broker settings, stores the broker password in
// the OS keyring, and writes the config file.
func cmdSetup(args []string) {
	nonInteractive := false
	for _, a := range args {
		if a == "--non-interactive" {
			nonInteractive = true
		}
	}

	if nonInteractive {
		cmdInitConfig()
		fmt.Println("Setup complete. Run 'wattscope start' to begin.")
		return
	}

	fmt.Println("WattScope Setup Wizard")
	fmt.Println("======================")
	fmt.Println()

	cfg := config.DefaultConfig()
	reader := bufio.NewReader(os.Stdin)

	cfg.MQTT.Host = prompt(reader, "MQTT broker host", cfg.MQTT.Host)
	if portStr := prompt(reader, "MQTT broker port", strconv.Itoa(cfg.MQTT.Port)); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			cfg.MQTT.Port = port
		} else {
			fmt.Printf("  (ignoring invalid port %q)\n", portStr)
		}
	}
	cfg.MQTT.Topic = prompt(reader, "Subscribe topic", cfg.MQTT.Topic)
	cfg.MQTT.Username = prompt(reader, "Broker username (empty for none)", "")

	if cfg.MQTT.Username != "" {
		fmt.Print("Broker password: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading password: %v\n", err)
			os.Exit(1)
		}
		if len(secret) > 0 {
			if err := vault.New().Set("mqtt", string(secret)); err != nil {
				fmt.Fprintf(os.Stderr, "error storing password in keyring: %v\n", err)
				os.Exit(1)
			}
			cfg.MQTT.PasswordRef = "keyring://wattscope/mqtt"
			fmt.Println("Password stored in the OS keyring")
		}
	}

	path, err := config.SaveConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nConfig written to %s\n", path)
	fmt.Println("Setup complete. Run 'wattscope start' to begin.")
}

// prompt reads one line, returning def when the answer is empty.
func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

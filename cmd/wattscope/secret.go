package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/wattscope/wattscope/internal/vault"
	"golang.org/x/term"
)

func cmdSecret(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: wattscope secret <list|set|delete> [account]")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "list":
		accounts, err := v.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error listing secrets: %v\n", err)
			os.Exit(1)
		}
		if len(accounts) == 0 {
			fmt.Println("No secrets stored")
			return
		}
		for _, a := range accounts {
			fmt.Printf("  %s: ****\n", a)
		}

	case "set":
		if len(args) < 2 {
			fmt.Println("Usage: wattscope secret set <account>")
			os.Exit(1)
		}
		account := strings.ToLower(args[1])
		fmt.Printf("Enter secret for %s: ", account)
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading secret: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(account, string(secret)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret for %s stored successfully\n", account)

	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: wattscope secret delete <account>")
			os.Exit(1)
		}
		account := strings.ToLower(args[1])
		if err := v.Delete(account); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret for %s deleted\n", account)

	default:
		fmt.Fprintf(os.Stderr, "unknown secret command: %s\n", args[0])
		os.Exit(1)
	}
}

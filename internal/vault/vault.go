// Package vault stores broker credentials in the OS keychain, with
// environment-variable and file fallbacks for headless hosts.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "wattscope"

// knownAccounts is the list of accounts checked by List().
var knownAccounts = []string{"mqtt"}

// Vault provides secure secret storage using the OS keychain.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a secret for the given account in the OS keychain.
func (v *Vault) Set(account, secret string) error {
	return keyring.Set(serviceName, account, secret)
}

// Get retrieves the secret for the given account. It first checks the
// OS keychain, then falls back to the environment variable
// WATTSCOPE_SECRET_{UPPER(account)}.
func (v *Vault) Get(account string) (string, error) {
	secret, err := keyring.Get(serviceName, account)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := "WATTSCOPE_SECRET_" + strings.ToUpper(account)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no secret found for %q: not in keychain and %s not set", account, envKey)
}

// Delete removes the secret for the given account from the OS keychain.
func (v *Vault) Delete(account string) error {
	return keyring.Delete(serviceName, account)
}

// List returns the known accounts that currently have a secret stored,
// in either the keychain or the environment.
func (v *Vault) List() ([]string, error) {
	var accounts []string
	for _, account := range knownAccounts {
		secret, err := keyring.Get(serviceName, account)
		if err == nil && secret != "" {
			accounts = append(accounts, account)
			continue
		}
		envKey := "WATTSCOPE_SECRET_" + strings.ToUpper(account)
		if val := os.Getenv(envKey); val != "" {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// ResolveRef parses a secret reference and retrieves the secret.
// Supported formats:
//   - "keyring://wattscope/<account>" (preferred)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/secret" (plain-text file)
//
// Anything else is treated as a literal secret, so plain passwords in
// the config file keep working.
func (v *Vault) ResolveRef(ref string) (string, error) {
	if strings.HasPrefix(ref, "keyring://") {
		path := strings.TrimPrefix(ref, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid secret reference: %q (expected \"keyring://wattscope/<account>\")", ref)
		}
		return v.Get(parts[1])
	}

	if strings.HasPrefix(ref, "env:") {
		envVar := strings.TrimPrefix(ref, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	if strings.HasPrefix(ref, "file://") {
		filePath := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading secret file %q: %w", filePath, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("secret file %q is empty", filePath)
		}
		return secret, nil
	}

	return ref, nil
}

package keyring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "intentcore"

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = errors.New("api key not found in keychain")

// APIKey retrieves the API key stored for provider.
func APIKey(provider string) (string, error) {
	if !enabled() {
		return "", ErrNotFound
	}
	key, err := zkr.Get(serviceName, account(provider))
	if err != nil {
		if errors.Is(err, zkr.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return strings.TrimSpace(key), nil
}

// SetAPIKey stores the API key for provider in the OS keychain.
func SetAPIKey(provider, key string) error {
	return zkr.Set(serviceName, account(provider), key)
}

// DeleteAPIKey removes the API key for provider.
func DeleteAPIKey(provider string) error {
	err := zkr.Delete(serviceName, account(provider))
	if errors.Is(err, zkr.ErrNotFound) {
		return nil
	}
	return err
}

// Available returns true if the OS keychain is functional.
// Returns false if INTENTCORE_KEYRING_DISABLED=1 is set (opt-in for headless/CI/Docker).
// Otherwise probes the keychain with a test write/read/delete cycle.
func Available() bool {
	if !enabled() {
		return false
	}
	testService := serviceName + "-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}

func enabled() bool {
	return os.Getenv("INTENTCORE_KEYRING_DISABLED") != "1"
}

func account(provider string) string {
	return "api-key:" + strings.ToLower(strings.TrimSpace(provider))
}

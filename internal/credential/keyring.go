// Package credential keeps secrets such as the SMTP password out of the
// YAML config.
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "reminders"

// filePasswordEnv unlocks the encrypted file backend on hosts without a
// desktop keyring.
const filePasswordEnv = "REMINDERS_KEYRING_PASSWORD"

// ErrNotFound is returned when neither the keyring nor the fallback
// environment variable holds the credential.
var ErrNotFound = errors.New("credential not found")

// opener is swapped in tests.
var opener = openKeyring

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/reminders/credentials",
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func filePassword(prompt string) (string, error) {
	if p := os.Getenv(filePasswordEnv); p != "" {
		return p, nil
	}
	return keyring.FixedStringPrompt("reminders-file-key")(prompt)
}

// Get retrieves a credential value by key.
func Get(key string) (string, error) {
	ring, err := opener()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	switch {
	case errors.Is(err, keyring.ErrKeyNotFound):
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key.
func Set(key, value string) error {
	if value == "" {
		return fmt.Errorf("credential %q: empty value", key)
	}
	ring, err := opener()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: serviceName + " " + key}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Lookup tries the keyring first and falls back to envVar. A keyring that
// cannot be opened is not an error when envVar is set.
func Lookup(key, envVar string) (string, error) {
	value, err := Get(key)
	if err == nil && value != "" {
		return value, nil
	}
	if env := os.Getenv(envVar); env != "" {
		return env, nil
	}
	if err != nil {
		return "", err
	}
	return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
}

// Package secrets resolves secret values that may arrive inline in the
// configuration or through a file reference.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a secret comes from.
type Source struct {
	// Name labels the secret in error messages.
	Name string
	// Value is the inline secret from configuration or flags.
	Value string
	// File is a path to a file holding the secret. A set File wins over
	// Value so keys can be kept out of config files.
	File string
}

// Load resolves and trims the secret. An error names the secret and explains
// which source was tried.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}

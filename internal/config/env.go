package config

import (
	"fmt"
	"os"
	"strings"
)

// loadEnvFile applies KEY=VALUE pairs from a dotenv-style file to the process
// environment. Blank lines and # comments are skipped, single or double
// quotes around a value are stripped, and variables already present in the
// environment win over the file.
func loadEnvFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	for i, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid line %d: %s", i+1, line)
		}
		key = strings.TrimSpace(key)
		value = trimQuotes(strings.TrimSpace(value))

		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set environment variable %s: %w", key, err)
		}
	}

	return nil
}

func trimQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

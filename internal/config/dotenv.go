package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv copies variables from the given .env files into the process
// environment. Variables already set win, then earlier files win over later
// ones. Files that do not exist are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if path = strings.TrimSpace(path); path == "" {
			continue
		}
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		for key, value := range values {
			if _, set := os.LookupEnv(key); set {
				continue
			}
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("set %s from %s: %w", key, path, err)
			}
		}
	}
	return nil
}

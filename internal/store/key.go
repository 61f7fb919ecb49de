package store

import (
	"fmt"
	"path"
	"strings"
)

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid key %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	return nil
}

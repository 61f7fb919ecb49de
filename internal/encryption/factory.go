package encryption

import (
	"fmt"

	"dupscan/internal/config"
	"dupscan/internal/dupscan"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" yields a nil Encryptor, which stores snapshots in
// plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (dupscan.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

package credstore

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringSource reads a credential from OS-native secure storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringSource struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringSource implements Source
var _ Source = (*KeyringSource)(nil)

// NewKeyringSource creates a KeyringSource using the given service and user
// identifiers.
func NewKeyringSource(service, user string) (*KeyringSource, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringSource{
		service: service,
		user:    user,
	}, nil
}

// Read returns the credential from the system keyring. Returns error if not found or empty.
func (k *KeyringSource) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := keyring.Get(k.service, k.user)
	if err != nil {
		return "", err
	}

	if value == "" {
		return "", fmt.Errorf("empty credential in keyring for service %s, user %s", k.service, k.user)
	}

	return value, nil
}

package security

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainService is the service name used for storing passwords in the keychain
	KeychainService = "irc-client"
)

// CredentialKind identifies which write-only secret a composite keychain
// entry holds for a given network identity.
type CredentialKind string

const (
	CredentialServerPassword   CredentialKind = "server_password"
	CredentialNickservPassword CredentialKind = "nickserv_password"
	CredentialSaslPassword     CredentialKind = "sasl_password"
)

// Keychain provides secure password storage using the OS keychain, keyed by
// a composite network-identity + credential-kind account name so one network
// can hold up to three independent secrets side by side.
type Keychain struct{}

// NewKeychain creates a new keychain instance
func NewKeychain() *Keychain {
	return &Keychain{}
}

func credentialAccount(networkID string, kind CredentialKind) string {
	return networkID + ":" + string(kind)
}

// StoreCredential stores a secret for a given network and credential kind.
// An empty secret deletes the entry instead of storing an empty string.
func (k *Keychain) StoreCredential(networkID string, kind CredentialKind, secret string) error {
	return k.StorePassword(credentialAccount(networkID, kind), secret)
}

// GetCredential retrieves a secret for a given network and credential kind.
// A missing entry returns an empty string and no error.
func (k *Keychain) GetCredential(networkID string, kind CredentialKind) (string, error) {
	return k.GetPassword(credentialAccount(networkID, kind))
}

// DeleteCredential removes a secret for a given network and credential kind.
func (k *Keychain) DeleteCredential(networkID string, kind CredentialKind) error {
	return k.DeletePassword(credentialAccount(networkID, kind))
}

// StorePassword stores a password under an arbitrary account name in the OS
// keychain. CredentialKind callers should prefer StoreCredential; this stays
// exported for account names that aren't network credentials.
func (k *Keychain) StorePassword(account string, password string) error {
	if password == "" {
		return k.DeletePassword(account)
	}
	if err := keyring.Set(KeychainService, account, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword retrieves a password stored under an arbitrary account name.
func (k *Keychain) GetPassword(account string) (string, error) {
	password, err := keyring.Get(KeychainService, account)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", nil // Not found is not an error, just return empty
		}
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes a password stored under an arbitrary account name.
func (k *Keychain) DeletePassword(account string) error {
	err := keyring.Delete(KeychainService, account)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil // Not found is not an error
		}
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}

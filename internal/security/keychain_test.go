package security

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func TestCredentialRoundTripPerNetworkAndKind(t *testing.T) {
	keyring.MockInit()
	k := NewKeychain()

	if err := k.StoreCredential("Libera", CredentialSaslPassword, "hunter2"); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}
	if err := k.StoreCredential("Libera", CredentialNickservPassword, "nspass"); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}
	if err := k.StoreCredential("OFTC", CredentialSaslPassword, "other-network-secret"); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}

	got, err := k.GetCredential("Libera", CredentialSaslPassword)
	if err != nil || got != "hunter2" {
		t.Fatalf("expected hunter2, got %q err %v", got, err)
	}
	got, err = k.GetCredential("Libera", CredentialNickservPassword)
	if err != nil || got != "nspass" {
		t.Fatalf("expected nspass, got %q err %v", got, err)
	}
	got, err = k.GetCredential("OFTC", CredentialSaslPassword)
	if err != nil || got != "other-network-secret" {
		t.Fatalf("expected network-scoped secret, got %q err %v", got, err)
	}

	missing, err := k.GetCredential("Libera", CredentialServerPassword)
	if err != nil || missing != "" {
		t.Fatalf("expected empty result for unset credential, got %q err %v", missing, err)
	}
}

func TestStoreCredentialEmptyDeletes(t *testing.T) {
	keyring.MockInit()
	k := NewKeychain()

	if err := k.StoreCredential("Libera", CredentialServerPassword, "secret"); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}
	if err := k.StoreCredential("Libera", CredentialServerPassword, ""); err != nil {
		t.Fatalf("StoreCredential with empty secret: %v", err)
	}
	got, err := k.GetCredential("Libera", CredentialServerPassword)
	if err != nil || got != "" {
		t.Fatalf("expected credential to be deleted, got %q err %v", got, err)
	}
}

package config

import (
	"testing"

	"github.com/cascade-irc/client/internal/security"
	"github.com/zalando/go-keyring"
)

func TestSyncSecretsPersistsAndFillsIn(t *testing.T) {
	keyring.MockInit()
	kc := security.NewKeychain()

	cfg, err := Load(writeTempConfig(t, `
[Server.Libera]
address = irc.libera.chat
nick = gopher
sasl_password = hunter2
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SyncSecrets(kc); err != nil {
		t.Fatalf("SyncSecrets: %v", err)
	}

	// A later run with the password omitted from the file should recover it
	// from the keychain.
	cfg2, err := Load(writeTempConfig(t, `
[Server.Libera]
address = irc.libera.chat
nick = gopher
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg2.SyncSecrets(kc); err != nil {
		t.Fatalf("SyncSecrets: %v", err)
	}
	if cfg2.Networks["Libera"].Info.SaslPassword != "hunter2" {
		t.Fatalf("expected sasl password to be recovered from keychain, got %q", cfg2.Networks["Libera"].Info.SaslPassword)
	}
}

func TestForgetSecretsRemovesAllKinds(t *testing.T) {
	keyring.MockInit()
	kc := security.NewKeychain()

	cfg, err := Load(writeTempConfig(t, `
[Server.Libera]
address = irc.libera.chat
nick = gopher
server_password = letmein
nickserv_password = nspass
sasl_password = hunter2
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SyncSecrets(kc); err != nil {
		t.Fatalf("SyncSecrets: %v", err)
	}
	networkKey := cfg.Networks["Libera"].Info.NetworkKey()
	if err := ForgetSecrets(kc, networkKey); err != nil {
		t.Fatalf("ForgetSecrets: %v", err)
	}

	for _, kind := range []security.CredentialKind{
		security.CredentialServerPassword,
		security.CredentialNickservPassword,
		security.CredentialSaslPassword,
	} {
		got, err := kc.GetCredential(networkKey, kind)
		if err != nil || got != "" {
			t.Fatalf("expected %s to be forgotten, got %q err %v", kind, got, err)
		}
	}
}

package config

import "github.com/cascade-irc/client/internal/security"

// SyncSecrets round-trips every network's write-only passwords through the
// OS keychain, keyed by ConnectionInfo.NetworkKey() (host:port, the same
// identity the orchestrator uses to key its connections): whichever of the
// INI file, CLI flags, or a prior run supplied a secret wins and is
// (re)persisted, while networks that carry no plaintext secret for a given
// kind have it filled in from what a previous run stored. This keeps the
// in-memory Info fields populated for the current connect without requiring
// the secret to live in the config file on disk.
func (c *Config) SyncSecrets(kc *security.Keychain) error {
	for _, profile := range c.Networks {
		key := profile.Info.NetworkKey()
		if err := syncOne(kc, key, &profile.Info.ServerPassword, security.CredentialServerPassword); err != nil {
			return err
		}
		if err := syncOne(kc, key, &profile.Info.NickservPassword, security.CredentialNickservPassword); err != nil {
			return err
		}
		if err := syncOne(kc, key, &profile.Info.SaslPassword, security.CredentialSaslPassword); err != nil {
			return err
		}
		profile.applyDefaults()
	}
	return nil
}

func syncOne(kc *security.Keychain, networkID string, field *string, kind security.CredentialKind) error {
	if *field != "" {
		return kc.StoreCredential(networkID, kind, *field)
	}
	stored, err := kc.GetCredential(networkID, kind)
	if err != nil {
		return err
	}
	*field = stored
	return nil
}

// ForgetSecrets removes every stored credential for a network (keyed by its
// ConnectionInfo.NetworkKey(), i.e. "host:port"), e.g. when the network is
// deleted or the user asks to clear saved passwords.
func ForgetSecrets(kc *security.Keychain, networkKey string) error {
	for _, kind := range []security.CredentialKind{
		security.CredentialServerPassword,
		security.CredentialNickservPassword,
		security.CredentialSaslPassword,
	} {
		if err := kc.DeleteCredential(networkKey, kind); err != nil {
			return err
		}
	}
	return nil
}

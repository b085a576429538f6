package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "client.ini")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadMissingFileProducesDefaultsWithWarning(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UI.MaxHistory != defaultMaxHistory {
		t.Fatalf("expected default max history, got %d", cfg.UI.MaxHistory)
	}
	if len(cfg.Warnings) != 1 {
		t.Fatalf("expected one warning about the missing file, got %v", cfg.Warnings)
	}
}

func TestLoadParsesServerSectionAndDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[Server.Libera]
address = irc.libera.chat
port = 6697
ssl = true
nick = gopher
channels = #go,#test
auto_connect = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	profile, ok := cfg.Networks["Libera"]
	if !ok {
		t.Fatalf("expected a Libera network, got %v", cfg.Networks)
	}
	if profile.Info.Host != "irc.libera.chat" || profile.Info.Port != 6697 || !profile.Info.TLS {
		t.Fatalf("unexpected connection info: %+v", profile.Info)
	}
	if profile.Info.Username != "gopher" || profile.Info.RealName != "gopher" {
		t.Fatalf("expected username/realname to default to nick, got %+v", profile.Info)
	}
	if len(profile.Info.AutoJoin) != 2 || profile.Info.AutoJoin[0] != "#go" {
		t.Fatalf("unexpected auto-join channels: %v", profile.Info.AutoJoin)
	}
	if cfg.DefaultNetwork != "Libera" {
		t.Fatalf("expected Libera to be the default network, got %q", cfg.DefaultNetwork)
	}
}

func TestLoadDefaultsToFirstNetworkWhenNoneAutoConnect(t *testing.T) {
	path := writeTempConfig(t, `
[Server.Zeta]
address = irc.zeta.example
nick = a

[Server.Alpha]
address = irc.alpha.example
nick = b
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultNetwork != "Alpha" {
		t.Fatalf("expected alphabetically-first network as default, got %q", cfg.DefaultNetwork)
	}
	found := false
	for _, w := range cfg.Warnings {
		if w == `no network has auto_connect=true, defaulting to "Alpha"` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a fallback-default warning, got %v", cfg.Warnings)
	}
}

func TestLoadSaslCredentialsDefaultFromNickserv(t *testing.T) {
	path := writeTempConfig(t, `
[Server.Home]
address = irc.home.example
nick = alice
nickserv_password = hunter2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	profile := cfg.Networks["Home"]
	if profile.Info.SaslPassword != "hunter2" || profile.Info.SaslUsername != "alice" {
		t.Fatalf("expected SASL credentials to default from nickserv password, got %+v", profile.Info)
	}
}

func TestLoadWarnsOnUnknownSectionAndKey(t *testing.T) {
	path := writeTempConfig(t, `
[UI]
message_history_lines = 1000
bogus_key = true

[TotallyUnknown]
foo = bar
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UI.MaxHistory != 1000 {
		t.Fatalf("expected overridden max history, got %d", cfg.UI.MaxHistory)
	}
	foundKey, foundSection := false, false
	for _, w := range cfg.Warnings {
		if w == `unknown key "bogus_key" in section [UI]` {
			foundKey = true
		}
		if w == "unknown configuration section [TotallyUnknown]" {
			foundSection = true
		}
	}
	if !foundKey || !foundSection {
		t.Fatalf("expected warnings for unknown key and section, got %v", cfg.Warnings)
	}
}

func TestLoadDccSection(t *testing.T) {
	path := writeTempConfig(t, `
[DCC]
enabled = true
download_dir = /tmp/dl
port_range_start = 2000
port_range_end = 2100
bandwidth_limit_send_kbps = 800
blocked_extensions = .exe,.scr
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dcc.DownloadDir != "/tmp/dl" || cfg.Dcc.PortRangeStart != 2000 || cfg.Dcc.PortRangeEnd != 2100 {
		t.Fatalf("unexpected DCC settings: %+v", cfg.Dcc)
	}
	opts := cfg.Dcc.ToOptions()
	if opts.SendBandwidthLimit != 800*1024/8 {
		t.Fatalf("expected kbps->bytes/sec conversion, got %d", opts.SendBandwidthLimit)
	}
	if len(opts.BlockedExtensions) != 2 {
		t.Fatalf("expected two blocked extensions, got %v", opts.BlockedExtensions)
	}
}

func TestLoadIgnoreList(t *testing.T) {
	path := writeTempConfig(t, `
[IgnoreList]
*!*@spammer.example = true
Loud!*@* = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsSourceIgnored("anyone!anyone@spammer.example") {
		t.Fatalf("expected spammer.example pattern to match")
	}
	if !cfg.IsSourceIgnored("loud!x@y") {
		t.Fatalf("expected ignore list patterns to be case-insensitive")
	}
	if cfg.IsSourceIgnored("quiet!x@y") {
		t.Fatalf("did not expect an unrelated identity to be ignored")
	}
}

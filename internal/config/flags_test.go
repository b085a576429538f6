package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestFlagsOverrideOnlyExplicitlySetValues(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
[Server.Home]
address = irc.home.example
port = 6667
nick = alice
auto_connect = true
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse([]string{"--nick", "bob", "--channel", "#one", "--channel", "#two"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.Apply(cfg)

	profile := cfg.Networks["Home"]
	if profile.Info.Nick != "bob" {
		t.Fatalf("expected nick override to apply, got %q", profile.Info.Nick)
	}
	if profile.Info.Host != "irc.home.example" {
		t.Fatalf("expected untouched host to be preserved, got %q", profile.Info.Host)
	}
	if len(profile.Info.AutoJoin) != 2 || profile.Info.AutoJoin[1] != "#two" {
		t.Fatalf("unexpected auto-join override: %v", profile.Info.AutoJoin)
	}
}

func TestFlagsCreateNetworkWhenNoneConfigured(t *testing.T) {
	cfg, err := Load("/nonexistent/path.ini")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse([]string{"--server", "irc.example.com", "--nick", "solo"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f.Apply(cfg)

	if cfg.DefaultNetwork == "" {
		t.Fatalf("expected a default network to be created from flags")
	}
	profile := cfg.Networks[cfg.DefaultNetwork]
	if profile.Info.Host != "irc.example.com" || profile.Info.Nick != "solo" {
		t.Fatalf("unexpected profile built from flags: %+v", profile.Info)
	}
}

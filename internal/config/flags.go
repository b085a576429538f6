package config

import (
	"github.com/spf13/pflag"
)

// Flags holds the CLI override surface, grounded on original_source/pyrc.py's
// argparse definitions (--server, --port, --nick, --channel, --password,
// --nickserv-password, --ssl/--no-ssl, --headless, --disable-script).
type Flags struct {
	Network          string
	Server           string
	Port             int
	Nick             string
	Channels         []string
	Password         string
	NickservPassword string
	SSL              bool
	Headless         bool
	DisableScript    []string

	set *pflag.FlagSet
}

// RegisterFlags builds a FlagSet with the override flags bound to fs. Call
// fs.Parse(args) yourself, then pass fs to Apply.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{set: fs}
	fs.StringVar(&f.Network, "network", "", "configured network to connect to (default: auto_connect network)")
	fs.StringVar(&f.Server, "server", "", "IRC server address, overrides config")
	fs.IntVar(&f.Port, "port", 0, "IRC server port, overrides config")
	fs.StringVar(&f.Nick, "nick", "", "IRC nickname, overrides config")
	fs.StringArrayVar(&f.Channels, "channel", nil, "channel to join, may be repeated; overrides config channels")
	fs.StringVar(&f.Password, "password", "", "IRC server password, overrides config")
	fs.StringVar(&f.NickservPassword, "nickserv-password", "", "NickServ password, overrides config")
	fs.BoolVar(&f.SSL, "ssl", false, "use TLS, overrides config")
	fs.BoolVar(&f.Headless, "headless", false, "run without an interactive UI")
	fs.StringArrayVar(&f.DisableScript, "disable-script", nil, "disable a script by module name, may be repeated")
	return f
}

// Apply overrides the targeted network profile (Flags.Network, or the
// config's DefaultNetwork if unset, or a network named "default" when
// neither is set) with whichever flags were actually
// passed on the command line. Flags not passed leave the config value
// untouched — mirroring argparse's default=None sentinel approach, since
// pflag.Changed tells us whether a flag was explicitly set rather than
// merely defaulted.
func (f *Flags) Apply(cfg *Config) {
	target := f.Network
	if target == "" {
		target = cfg.DefaultNetwork
	}
	if target == "" {
		target = "default"
	}
	profile := cfg.Networks[target]
	if profile == nil {
		profile = &ServerProfile{Name: target}
		cfg.Networks[target] = profile
		if cfg.DefaultNetwork == "" {
			cfg.DefaultNetwork = target
		}
	}

	if f.set.Changed("server") {
		profile.Info.Host = f.Server
	}
	if f.set.Changed("port") {
		profile.Info.Port = f.Port
	}
	if f.set.Changed("nick") {
		profile.Info.Nick = f.Nick
	}
	if f.set.Changed("channel") {
		profile.Info.AutoJoin = f.Channels
	}
	if f.set.Changed("password") {
		profile.Info.ServerPassword = f.Password
	}
	if f.set.Changed("nickserv-password") {
		profile.Info.NickservPassword = f.NickservPassword
	}
	if f.set.Changed("ssl") {
		profile.Info.TLS = f.SSL
	}
	if f.set.Changed("disable-script") {
		cfg.DisabledScripts = append(cfg.DisabledScripts, f.DisableScript...)
	}

	profile.applyDefaults()
}

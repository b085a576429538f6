package config

import "github.com/cascade-irc/client/internal/orchestrator"

// OrchestratorOptions builds the per-network fields of orchestrator.Options
// from this profile and the process-wide DCC settings. The caller still owns
// wiring Bus, Store, Channels, Contexts, and TransportFactory, since those
// are shared across every network rather than per-profile.
func (p *ServerProfile) OrchestratorOptions(dcc DccSettings) orchestrator.Options {
	opts := orchestrator.Options{
		Info:        p.Info,
		DesiredCaps: p.DesiredCaps,
		Timeouts:    p.Timeouts,
	}
	if dcc.Enabled {
		dccOpts := dcc.ToOptions()
		opts.Dcc = &dccOpts
	}
	return opts
}

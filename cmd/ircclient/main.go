// Command ircclient is the headless connection daemon: it reads the INI
// configuration (A2), applies CLI overrides, resolves write-only secrets
// through the OS keychain (A3), and drives every auto-connect network's
// Connection Orchestrator (L8) until it receives a shutdown signal. Terminal
// rendering and slash-command dispatch are external collaborators this
// entrypoint does not implement; this binary owns only the network side.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	ircctx "github.com/cascade-irc/client/internal/context"
	"github.com/cascade-irc/client/internal/config"
	"github.com/cascade-irc/client/internal/constants"
	"github.com/cascade-irc/client/internal/events"
	"github.com/cascade-irc/client/internal/logger"
	"github.com/cascade-irc/client/internal/orchestrator"
	"github.com/cascade-irc/client/internal/security"
	"github.com/cascade-irc/client/internal/state"
	"github.com/cascade-irc/client/internal/storage"
)

// archiveAdapter satisfies dispatch.Archiver by delegating to a
// *storage.Storage, translating its primitive arguments into the
// storage.ArchiveEntry the buffered writer expects.
type archiveAdapter struct {
	store *storage.Storage
}

func (a archiveAdapter) WriteArchiveEntry(network, target, nick, kind, body, rawLine string, timestamp time.Time) error {
	return a.store.WriteArchiveEntry(storage.ArchiveEntry{
		Network:   network,
		Target:    target,
		Nick:      nick,
		Kind:      kind,
		Body:      body,
		RawLine:   rawLine,
		Timestamp: timestamp,
	})
}

func main() {
	fs := pflag.NewFlagSet("ircclient", pflag.ExitOnError)
	configPath := fs.String("config", "ircclient.ini", "path to the INI configuration file")
	statePath := fs.String("state", "ircclient-state.json", "path to the persisted state snapshot")
	archivePath := fs.String("archive-db", "ircclient-archive.db", "path to the scrollback archive database")
	overrides := config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Log.Fatal().Err(err).Msg("ircclient: failed to parse command-line flags")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("path", *configPath).Msg("ircclient: failed to load configuration")
	}
	overrides.Apply(cfg)

	kc := security.NewKeychain()
	if err := cfg.SyncSecrets(kc); err != nil {
		logger.Log.Error().Err(err).Msg("ircclient: keychain sync failed, continuing with whatever secrets were in the config file")
	}

	cfg.Validate()
	for name, profile := range cfg.Networks {
		for _, w := range profile.Info.ConfigErrors {
			logger.Log.Warn().Str("network", name).Str("error", w).Msg("ircclient: configuration error")
		}
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	bus.Subscribe("*", events.SubscriberFunc(func(e events.Event) {
		logger.Log.Debug().Str("type", e.Type).Str("source", string(e.Source)).Msg("ircclient: event")
	}))

	store := state.New(bus)
	persister := state.NewPersister(*statePath)
	if _, err := persister.Load(time.Now()); err != nil {
		logger.Log.Error().Err(err).Msg("ircclient: failed to load persisted state")
	}
	persister.StartAutoFlush(constants.StatePersistAutoFlushInterval)
	defer persister.Stop()

	archiveStore, err := storage.NewStorage(*archivePath, constants.ArchiveWriteBufferSize, constants.ArchiveFlushInterval)
	if err != nil {
		logger.Log.Error().Err(err).Str("path", *archivePath).Msg("ircclient: failed to open scrollback archive, continuing without one")
	} else {
		defer archiveStore.Close()
	}

	historyCap := cfg.UI.MaxHistory
	if overrides.Headless {
		historyCap = cfg.UI.HeadlessMaxHistory
	}

	manager := orchestrator.NewManager()
	var networkKeys []string
	for name, profile := range cfg.Networks {
		if len(profile.Info.ConfigErrors) > 0 {
			logger.Log.Warn().Str("network", name).Msg("ircclient: skipping network with unresolved configuration errors")
			continue
		}
		if !profile.AutoConnect {
			continue
		}

		opts := profile.OrchestratorOptions(cfg.Dcc)
		opts.Bus = bus
		opts.Store = store
		opts.Channels = state.NewChannelSet()
		opts.Contexts = ircctx.NewManager(historyCap)
		opts.TransportFactory = orchestrator.DefaultTransportFactory
		if archiveStore != nil {
			opts.Archiver = archiveAdapter{store: archiveStore}
		}
		opts.NonRetryableStop = func(err error) {
			logger.Log.Error().Err(err).Str("network", name).Msg("ircclient: connection gave up permanently")
		}

		if _, err := manager.Add(opts); err != nil {
			logger.Log.Error().Err(err).Str("network", name).Msg("ircclient: failed to register network")
			continue
		}
		networkKeys = append(networkKeys, profile.Info.NetworkKey())
	}

	if len(networkKeys) == 0 {
		logger.Log.Warn().Msg("ircclient: no auto-connect network is configured, idling until interrupted")
	}
	manager.AutoConnectAll(ctx)

	<-ctx.Done()
	logger.Log.Info().Msg("ircclient: shutting down")
	for _, key := range networkKeys {
		manager.Disconnect(key)
	}
	if err := persister.Flush(); err != nil {
		logger.Log.Error().Err(err).Msg("ircclient: final state flush failed")
	}
}

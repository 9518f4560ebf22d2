package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/Resona/internal/config"
	"github.com/latoulicious/Resona/internal/discord"
	"github.com/latoulicious/Resona/internal/handlers"
	"github.com/latoulicious/Resona/internal/presence"
	"github.com/latoulicious/Resona/pkg/autoplay"
	"github.com/latoulicious/Resona/pkg/database"
	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/recommend"
	"github.com/latoulicious/Resona/pkg/reconcile"
	"github.com/latoulicious/Resona/pkg/resilience"
	"github.com/latoulicious/Resona/pkg/session"
	"github.com/latoulicious/Resona/pkg/transport"
	"github.com/latoulicious/Resona/pkg/voice"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	store, err := database.NewStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatalf("Failed to create Discord session: %v", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	// The transport client needs an event handler before the supervisor
	// and policy exist; the fan-out is filled in below.
	events := &handlers.TransportEvents{}
	client := transport.NewClient([]transport.NodeConfig{
		{
			ID:       cfg.NodeID,
			Address:  cfg.NodeAddress,
			Password: cfg.NodePassword,
			Secure:   cfg.NodeSecure,
		},
	}, events, logger)

	sessions := session.NewManager(logger)
	gateway := discord.NewGateway(dg, logger)

	supervisor := resilience.NewSupervisor(client, resilience.DefaultConfig(), logger)
	defer supervisor.Close()

	recommender := recommend.NewClient(cfg.LastFMAPIKey)
	policy := autoplay.NewPolicy(sessions, client, recommender, store, gateway, logger)
	policy.SetIdleTimeout(cfg.IdleTimeout)

	events.Supervisor = supervisor
	events.Policy = policy

	if err := dg.Open(); err != nil {
		log.Fatalf("Failed to open Discord session: %v", err)
	}
	defer dg.Close()

	watcher := voice.NewWatcher(sessions, gateway, gateway, store, dg.State.User.ID, logger)
	watcher.SetAloneGrace(cfg.AloneGrace)
	handlers.RegisterVoiceHandler(dg, watcher)

	client.Open()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := reconcile.NewReconciler(store, sessions, client, gateway, logger)
	reconciler.SetInterval(cfg.ReconcileInterval)
	reconciler.Start(ctx)

	presenceManager := presence.NewPresenceManager(dg, sessions, logger)
	presenceManager.UpdateDefaultPresence()
	presenceManager.StartPeriodicUpdates(ctx.Done())

	logger.Info("bot is running, press CTRL-C to exit")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("shutting down")
}

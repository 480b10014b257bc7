package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/carmine/cmd/carmine/internal"
	"github.com/tinyland-inc/carmine/pkg/bus"
	"github.com/tinyland-inc/carmine/pkg/channels"
	"github.com/tinyland-inc/carmine/pkg/commands"
	"github.com/tinyland-inc/carmine/pkg/config"
	"github.com/tinyland-inc/carmine/pkg/dispatch"
	"github.com/tinyland-inc/carmine/pkg/health"
	"github.com/tinyland-inc/carmine/pkg/logger"
	"github.com/tinyland-inc/carmine/pkg/store"
)

const (
	stopTimeout  = 10 * time.Second
	drainTimeout = 15 * time.Second
)

func gatewayCmd(debug bool, configPath string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	configureLogging(cfg.Log, debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Redis.URL,
		store.WithKeyPrefix(cfg.Redis.KeyPrefix),
		store.WithMappingTTL(cfg.Redis.MappingTTL),
	)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	defer st.Close()

	gw, err := newGateway(cfg, st)
	if err != nil {
		return err
	}
	return gw.run(ctx)
}

func configureLogging(cfg config.LogConfig, debug bool) {
	logger.Configure(os.Stderr, cfg.Format)
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		level = logger.INFO
	}
	if debug {
		level = logger.DEBUG
		fmt.Println("🔍 Debug mode enabled")
	}
	logger.SetLevel(level)
}

// gateway owns both platform surfaces and the two dispatchers between them.
type gateway struct {
	bus         *bus.EventBus
	channels    *channels.Manager
	dispatchers []*dispatch.Dispatcher
}

func newGateway(cfg *config.Config, st *store.Store) (*gateway, error) {
	overflow, err := bus.ParseOverflowPolicy(cfg.Bus.Overflow)
	if err != nil {
		return nil, err
	}
	eb := bus.NewEventBus(bus.WithCapacity(cfg.Bus.Capacity), bus.WithOverflow(overflow))

	slackAPI := slack.New(cfg.Slack.BotToken)
	cmds := commands.NewHandler(st, slackAPI, cfg.Discord.Prefix)

	discord, err := channels.NewDiscordChannel(cfg.Discord.Token, cfg.Discord.GuildID, eb.ToSlack(), cmds)
	if err != nil {
		return nil, fmt.Errorf("error creating discord channel: %w", err)
	}

	hc := health.NewHandler()
	hc.AddCheck("redis", st.Ping)

	opts := []channels.SlackOption{channels.WithRoutes(hc.RegisterOnMux)}
	if cfg.Slack.OAuthEnabled() {
		opts = append(opts, channels.WithOAuth(channels.OAuthConfig{
			ClientID:     cfg.Slack.ClientID,
			ClientSecret: cfg.Slack.ClientSecret,
			Scopes:       cfg.Slack.Scopes(),
			RedirectHost: cfg.Slack.RedirectHost,
		}))
	}
	slackCh := channels.NewSlackChannel(slackAPI, cfg.Slack.SigningSecret, cfg.Slack.TeamID,
		cfg.Gateway.Addr(), eb.ToDiscord(), cmds, opts...)

	mgr := channels.NewManager(discord, slackCh)
	hc.AddCheck("channels", func(context.Context) error {
		for name, running := range mgr.Status() {
			if !running {
				return fmt.Errorf("%s is not running", name)
			}
		}
		return nil
	})

	return &gateway{
		bus:      eb,
		channels: mgr,
		dispatchers: []*dispatch.Dispatcher{
			dispatch.New("discord->slack", eb.ToSlack(), st.TowardSlack(),
				channels.NewSlackDeliverer(slackAPI), dispatch.WithWorkspace(cfg.Discord.GuildID)),
			dispatch.New("slack->discord", eb.ToDiscord(), st.TowardDiscord(),
				channels.NewDiscordDeliverer(discord.API()), dispatch.WithWorkspace(cfg.Slack.TeamID)),
		},
	}, nil
}

// run blocks until ctx is cancelled. Ingestion stops first, then the bus
// closes and the dispatchers drain what is already queued.
func (g *gateway) run(ctx context.Context) error {
	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}

	// Dispatchers outlive ctx so queued events can still be delivered.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	eg, egCtx := errgroup.WithContext(runCtx)
	for _, d := range g.dispatchers {
		eg.Go(func() error { return d.Run(egCtx) })
	}

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancelStop()
	if err := g.channels.StopAll(stopCtx); err != nil {
		logger.ErrorCF("gateway", "Failed to stop channels cleanly", map[string]any{"error": err.Error()})
	}
	g.bus.Close()

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-time.After(drainTimeout):
		logger.WarnCF("gateway", "Dispatchers did not drain in time", map[string]any{
			"timeout": drainTimeout.String(),
			"pending": g.bus.ToDiscord().Len() + g.bus.ToSlack().Len(),
		})
		cancelRun()
		err = <-done
	}

	fmt.Println("✓ Gateway stopped")
	return err
}

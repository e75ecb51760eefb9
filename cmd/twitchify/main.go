// Command twitchify signs a Twitch user in, keeps the token fresh and logs
// the EventSub notifications and chat lines it receives until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/Guliveer/twitchify-go/internal/chat"
	"github.com/Guliveer/twitchify-go/internal/client"
	"github.com/Guliveer/twitchify-go/internal/config"
	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/eventsub"
	"github.com/Guliveer/twitchify-go/internal/logger"
	"github.com/Guliveer/twitchify-go/internal/server"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the configuration file")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config and LOG_LEVEL env)")
	noColor := flag.Bool("no-color", false, "Disable colored output (overrides TTY detection)")
	loginOnly := flag.Bool("login", false, "Run the device login, save the tokens and exit")
	statusAddr := flag.String("addr", "", "Address for the health/status HTTP server, e.g. :8080 (overrides STATUS_ADDR env)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	}

	colored := !*noColor && term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	log, err := logger.Setup(logger.Config{
		Level:     level,
		FileLevel: slog.LevelDebug,
		Colored:   colored,
		LogDir:    cfg.Log.Dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	c, err := client.New(cfg, log)
	if err != nil {
		log.Error("Invalid config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", "signal", sig.String())
		cancel()

		time.AfterFunc(constants.DefaultGracefulShutdownTimeout, func() {
			log.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})
	}()

	if *loginOnly {
		if _, err := c.Login(ctx); err != nil {
			log.Error("Device login failed", "error", err)
			os.Exit(1)
		}
		log.Info("🔑 Tokens saved", "file", cfg.TokenFile)
		return
	}

	events := server.NewEventLog(constants.DefaultEventHistory)
	registerHandlers(c, cfg, events, log)

	addr := *statusAddr
	if addr == "" {
		addr = os.Getenv("STATUS_ADDR")
	}
	if addr != "" {
		statusServer := server.NewStatusServer(addr, events, log)
		statusServer.SetStatusFunc(func() server.Status { return toServerStatus(c.Status()) })
		go func() {
			if err := statusServer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("Status server failed", "error", err)
			}
		}()
	}

	log.Info("🚀 Starting twitchify", "version", constants.Version, "config", *configPath)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Client stopped", "error", err)
		os.Exit(1)
	}

	log.Info("👋 Stopped. Goodbye!")
}

// registerHandlers logs every subscribed notification as an event, so the
// notification providers can forward them, and prints chat when enabled.
func registerHandlers(c *client.Client, cfg *config.Config, events *server.EventLog, log *logger.Logger) {
	for _, name := range c.Status().Subscriptions {
		c.On(name, func(ctx context.Context, args ...any) {
			note, ok := args[0].(*eventsub.Notification)
			if !ok {
				return
			}
			events.Record(server.Entry{
				Type:      note.Subscription.Type,
				MessageID: note.MessageID,
				Timestamp: note.Timestamp,
				Event:     note.Event,
			})
			log.Event(ctx, note.Subscription.Type, "EventSub notification",
				"type", note.Subscription.Type,
				"payload", string(note.Event),
			)
		})
	}

	c.On(constants.EventConnect, func(_ context.Context, args ...any) {
		log.Debug("EventSub connected", "session", args[0])
	})
	c.On(constants.EventDisconnect, func(context.Context, ...any) {
		log.Warn("EventSub disconnected, reconnecting")
	})

	if cfg.Chat.Enabled {
		c.On(constants.EventChatMessage, func(_ context.Context, args ...any) {
			if msg, ok := args[0].(*chat.Message); ok {
				log.Debug("Chat", "channel", msg.Channel, "user", msg.User, "text", msg.Text)
			}
		})
	}
}

func toServerStatus(st client.Status) server.Status {
	out := server.Status{
		Running:        st.Running,
		SessionID:      st.SessionID,
		Subscriptions:  st.Subscriptions,
		ChatChannels:   st.ChatChannels,
		RefreshEnabled: st.RefreshEnabled,
		StartedAt:      st.StartedAt,
	}
	if st.User != nil {
		out.Login, out.UserID = st.User.Login, st.User.ID
	}
	return out
}

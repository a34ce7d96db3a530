package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wingheights/wingsite/internal/appointment"
	"github.com/wingheights/wingsite/internal/cache"
	"github.com/wingheights/wingsite/internal/cms"
	"github.com/wingheights/wingsite/internal/config"
	"github.com/wingheights/wingsite/internal/logger"
	"github.com/wingheights/wingsite/internal/output"
	"github.com/wingheights/wingsite/internal/render"
	"github.com/wingheights/wingsite/internal/server"
)

// shutdownTimeout bounds how long in-flight requests get after a signal.
const shutdownTimeout = 15 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	var (
		host  string
		port  int
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the site server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, nil)
			if err != nil {
				return err
			}
			// Flags override the file and the environment.
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("debug") {
				cfg.Server.Debug = debug
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log := logger.New(cfg.Server.Debug)
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Interface to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level to the console")
	return cmd
}

// app holds the running collaborators so they can be released in order.
type app struct {
	handler      *server.Server
	cache        *cache.MemoryCache
	appointments *appointment.Service
	notifiers    *output.Registry
	mailer       output.Output
	chat         *server.ChatBridge
	cancel       context.CancelFunc
}

// newApp wires the CMS client, renderer, appointment service and chat bridge
// into a server.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{cancel: cancel, cache: cache.NewMemoryCache()}

	content := cms.NewClient(cfg.CMS, a.cache, log)
	renderer, err := render.New(content.BaseURL(), log)
	if err != nil {
		a.Close()
		return nil, err
	}

	loc, err := cfg.Appointments.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	store, err := appointment.OpenStore(ctx, cfg.Appointments)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open appointments store: %w", err)
	}
	a.mailer, a.notifiers, err = output.FromConfig(cfg)
	if err != nil {
		store.Close()
		a.Close()
		return nil, fmt.Errorf("configure notifications: %w", err)
	}
	a.appointments = appointment.NewService(store, appointment.Options{
		Mailer:    a.mailer,
		Notifiers: a.notifiers,
		Organizer: cfg.Email.GetFrom(),
		Location:  loc,
		Logger:    log,
	})

	if cfg.Chat.IsEnabled() {
		a.chat = server.NewChatBridge(cfg.Chat, log, server.WithChatSubmitter(a.appointments))
	}

	a.handler, err = server.New(ctx, cfg, server.Options{
		Content:      content,
		Renderer:     renderer,
		Appointments: a.appointments,
		Chat:         a.chat,
		Logger:       log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops background work and releases the store and outputs. It must
// only be called once no requests are being served.
func (a *app) Close() error {
	a.cancel()
	if a.handler != nil {
		<-a.handler.Done()
	}
	if a.chat != nil {
		a.chat.Shutdown()
		a.chat.Wait()
	}
	a.cache.Stop()

	var errs []error
	if a.appointments != nil {
		errs = append(errs, a.appointments.Close())
	}
	if a.mailer != nil {
		errs = append(errs, a.mailer.Close())
	}
	if a.notifiers != nil {
		errs = append(errs, a.notifiers.Close())
	}
	return errors.Join(errs...)
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if a.chat != nil {
		srv.RegisterOnShutdown(a.chat.Shutdown)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("server started",
		zap.String("addr", "http://"+srv.Addr),
		zap.String("cms", cfg.CMS.URL),
		zap.Bool("chat", cfg.Chat.IsEnabled()),
		zap.String("appointments", cfg.Appointments.GetStore()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/dotcompanion/pkg/api"
	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/engage"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/navguard"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var (
		debug       bool
		noScheduler bool
		host        string
		port        int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the engagement scheduler",
		Long: "Serve the session, memory, and navigation API, run the engagement scheduler, " +
			"and reload the rules file whenever it changes.",
		Example: "  dotcompanion serve --port 18791",
		RunE: func(cmd *cobra.Command, args []string) error {
			enableDebug(debug)
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Gateway.Host = host
			}
			if port > 0 {
				cfg.Gateway.Port = port
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without proactive messages")
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides gateway.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides gateway.port)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	current, err := a.sessions.Reconcile(ctx)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Sessions:     a.sessions,
		Memory:       a.memory,
		Conversation: a.conversation,
		Toucher:      a.scheduler,
		Foreground:   a.scheduler,
		Notifier:     a.notifier,
		Guard:        navguard.New(navguard.Options{}),
	}, cfg.Gateway.APIKey)

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	a.bus.RegisterHandler(bus.EventAutonomousMessage, func(ev bus.Event) {
		logger.InfoCF("serve", "Companion reached out", map[string]any{
			"session_id": ev.SessionID,
			"rule_id":    ev.RuleID,
		})
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.bus.Dispatch(gctx)
		return nil
	})

	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
		defer a.scheduler.Stop()

		if a.rulesPath != "" {
			watcher, err := engage.NewRulesWatcher(a.rulesPath, a.scheduler)
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()
		}
	}

	g.Go(func() error {
		logger.InfoCF("serve", "API listening", map[string]any{
			"addr":            addr,
			"current_session": current,
			"scheduler":       cfg.Scheduler.Enabled,
			"chat":            a.conversation != nil,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.InfoC("serve", "Stopped")
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akiho/torii/internal/accounting"
	"github.com/akiho/torii/internal/agent"
	"github.com/akiho/torii/internal/config"
	"github.com/akiho/torii/internal/gateway"
	"github.com/akiho/torii/internal/limits"
	"github.com/akiho/torii/internal/optimizer"
	"github.com/akiho/torii/internal/policy"
	"github.com/akiho/torii/internal/trust"
	"github.com/akiho/torii/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Accounting.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := accounting.Open(ctx, cfg.Accounting.DBPath)
	if err != nil {
		return fmt.Errorf("open accounting store: %w", err)
	}
	defer store.Close()

	up, err := upstream.New(cfg.Upstream)
	if err != nil {
		return err
	}

	rules, err := optimizer.NewRuleStore(cfg.Optimizer.RulesPath).Load()
	if err != nil {
		return fmt.Errorf("load optimization rules: %w", err)
	}
	slog.Info("Optimization rules loaded", "path", cfg.Optimizer.RulesPath, "count", rules.Len())

	opt := optimizer.New(rules, store, cfg.Optimizer.DefaultInputPrice, cfg.Optimizer.DefaultOutputPrice)
	accountant := accounting.NewAccountant(store, opt)

	resolver, err := agent.NewResolver(store)
	if err != nil {
		return err
	}

	limiter, err := limits.NewChecker(store, cfg.Limits)
	if err != nil {
		return err
	}

	var trustEval *trust.Evaluator
	if cfg.Checker.Enabled {
		trustEval = trust.NewEvaluator(upstream.NewSingle(cfg.Checker.APIKey, cfg.Checker.BaseURL), cfg.Checker.Model)
	}

	engine := policy.NewEngine(&policy.DefaultEvaluator{
		BlockUntrusted: cfg.Policy.BlockUntrusted,
		AllowedDomains: cfg.Policy.AllowedDomains,
	})

	gw := gateway.New(cfg, up, trustEval, engine, opt, accountant, resolver, limiter)

	readTimeout, err := config.DurationOrDefault(cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return err
	}
	idleTimeout, err := config.DurationOrDefault(cfg.Server.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return err
	}
	shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     gw.Handler(),
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Command concord runs the assistant orchestration core: a WebSocket
// server that turns free-form user requests into validated, dependency-
// ordered plans of tool invocations and executes them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/llm"
	"github.com/concordlabs/concord/orchestration"
	"github.com/concordlabs/concord/prompts"
	"github.com/concordlabs/concord/session"
	"github.com/concordlabs/concord/telemetry"
	"github.com/concordlabs/concord/tools"
	"github.com/concordlabs/concord/transport"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "concord",
	Short: "Assistant orchestration core",
	Long: `Concord turns free-form user requests into validated tool plans,
executes them with cancellation and per-step retry, and delivers the
finalized reply over a persistent WebSocket connection per session.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration file, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (server %s, model %s, %d delivery verbs)\n",
			cfg.Server.Addr, cfg.LLM.Model, len(cfg.Delivery.IntentVerbs))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := core.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(cfg.Logging, "concord")

	var tel core.Telemetry = &core.NoOpTelemetry{}
	var otelProvider *telemetry.OTelProvider
	if cfg.Telemetry.Enabled {
		otelProvider, err = telemetry.NewOTelProvider("concord", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		tel = otelProvider
	}

	promptStore, err := prompts.NewStore(cfg.Prompts.Dir)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}
	promptStore.SetLogger(logger.WithComponent("prompts"))
	if cfg.Prompts.Watch {
		if err := promptStore.Watch(); err != nil {
			return fmt.Errorf("watching prompts: %w", err)
		}
		defer promptStore.Close()
	}

	ai := llm.NewClient(cfg)
	ai.SetLogger(logger.WithComponent("llm"))

	registry := orchestration.NewRegistry()
	registry.SetLogger(logger.WithComponent("registry"))
	if err := tools.RegisterBuiltins(registry, cfg, tools.Deps{
		Logger: logger.WithComponent("tools"),
	}); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	registry.Freeze()

	resolver := orchestration.NewResolver()
	resolver.SetLogger(logger.WithComponent("resolver"))
	critic := orchestration.NewCritic(ai, registry, cfg)
	critic.SetLogger(logger.WithComponent("critic"))
	planner := orchestration.NewPlanner(ai, promptStore, cfg)
	validator := orchestration.NewValidator(registry, cfg)
	executor := orchestration.NewExecutor(registry, resolver, critic, cfg)
	finalizer := orchestration.NewFinalizer()

	orch := orchestration.NewOrchestrator(planner, validator, executor, finalizer, registry, cfg)
	orch.SetLogger(logger.WithComponent("orchestrator"))
	orch.SetTelemetry(tel)

	var store session.Store
	if cfg.Redis.Enabled {
		redisStore, err := session.NewRedisStore(cfg.Redis.URL, 0)
		if err != nil {
			return fmt.Errorf("connecting session store: %w", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		store = session.NewFileStore(cfg.Sessions.Dir)
	}

	tasks := session.NewTaskManager()
	tasks.SetLogger(logger.WithComponent("tasks"))

	srv := transport.NewServer(orch, tasks, store, cfg)
	srv.SetLogger(logger.WithComponent("transport"))
	srv.SetTelemetry(tel)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", map[string]interface{}{
			"operation": "serve",
			"addr":      cfg.Server.Addr,
			"tools":     registry.Names(),
		})
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", map[string]interface{}{"operation": "serve"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", map[string]interface{}{
				"operation": "serve",
				"error":     err.Error(),
			})
		}
	}
	return nil
}

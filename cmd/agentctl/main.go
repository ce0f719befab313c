// Package main provides the command-line entry point for the Arc
// Reactor agent execution core: a single binary that wires a chat
// provider, the ReAct loop, and the execution pipeline together and
// runs one prompt to completion, streaming or not.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/StarkFactory/arc-reactor-sub001/internal/agent"
	agentcontext "github.com/StarkFactory/arc-reactor-sub001/internal/agent/context"
	"github.com/StarkFactory/arc-reactor-sub001/internal/agent/providers"
	"github.com/StarkFactory/arc-reactor-sub001/internal/retry"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

var (
	version = "dev"

	configPath string
	provider   string
	model      string
	stream     bool
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentctl",
		Short:        "Arc Reactor agent execution core",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON5 config file (optional)")
	root.PersistentFlags().StringVar(&provider, "provider", "anthropic", "chat provider: anthropic, openai, or google")
	root.PersistentFlags().StringVar(&model, "model", "", "model name override")

	root.AddCommand(buildRunCmd(), buildServeCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt through the execution core",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, cfg, err := buildExecutor()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			command := models.AgentCommand{
				UserPrompt:     args[0],
				Mode:           models.ModeStandard,
				ResponseFormat: models.FormatText,
				Temperature:    &cfg.LLM.Temperature,
			}

			out := cmd.OutOrStdout()
			if stream {
				result := executor.ExecuteStream(ctx, command, func(chunk string) {
					fmt.Fprint(out, chunk)
				})
				fmt.Fprintln(out)
				if !result.Success {
					return fmt.Errorf("%s: %s", result.ErrorCode, result.ErrorMessage)
				}
				return nil
			}

			result := executor.Execute(ctx, command)
			if !result.Success {
				return fmt.Errorf("%s: %s", result.ErrorCode, result.ErrorMessage)
			}
			fmt.Fprintln(out, result.Content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response as it is produced")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Expose the Prometheus /metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetricsServer(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address for /metrics")
	return cmd
}

// buildExecutor wires one ChatClient, the ReAct loops, and the
// coordinator into an AgentExecutor using process defaults; no guards,
// hooks, RAG pipeline, or conversation memory are attached, since those
// are deployment-specific external collaborators left to be injected by
// a host application.
func buildExecutor() (*agent.AgentExecutor, agent.Config, error) {
	cfg := agent.DefaultConfig()
	if configPath != "" {
		loader, err := agent.NewConfigLoader(configPath)
		if err != nil {
			return nil, cfg, err
		}
		cfg = loader.Current()
	}

	client, err := buildChatClient()
	if err != nil {
		return nil, cfg, err
	}

	estimator := agent.HeuristicTokenEstimator{}
	trimmer := agentcontext.NewTrimmer(estimator, slog.Default())
	repairer := &agent.StructuredOutputRepairer{Client: client}
	retryExec := retry.NewExecutor(retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:   cfg.Retry.Multiplier,
	}, providers.IsRetryable)

	metrics := agent.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	tracer := agent.NewOTelTracer("arc-reactor-sub001")

	planner := &agent.ToolPreparationPlanner{MaxToolsPerRequest: cfg.MaxToolsPerRequest}
	orchestrator := agent.NewToolCallOrchestrator(nil, cfg)
	orchestrator.Metrics = metrics
	orchestrator.Tracer = tracer
	orchestrator.Approval = agent.NewApprovalChecker(nil)

	manualLoop := &agent.ManualReActLoop{
		Client:       client,
		Orchestrator: orchestrator,
		Trimmer:      trimmer,
		Repairer:     repairer,
		Retry:        retryExec,
		Cfg:          cfg,
	}
	streamingLoop := &agent.StreamingReActLoop{
		Client:       client,
		Orchestrator: orchestrator,
		Trimmer:      trimmer,
		Retry:        retryExec,
		Cfg:          cfg,
	}

	finalizer := &agent.ExecutionResultFinalizer{
		Metrics:     metrics,
		Boundaries:  cfg.Boundaries,
		RetryCaller: client,
	}
	streamingFinalizer := &agent.StreamingCompletionFinalizer{
		Metrics:    metrics,
		Boundaries: cfg.Boundaries,
	}

	resolver := &agent.PreExecutionResolver{Metrics: metrics, Logger: slog.Default()}

	coordinator := &agent.AgentExecutionCoordinator{
		Resolver:           resolver,
		ToolPlanner:        planner,
		ManualLoop:         manualLoop,
		StreamingLoop:      streamingLoop,
		Finalizer:          finalizer,
		StreamingFinalizer: streamingFinalizer,
		Metrics:            metrics,
		Cfg:                cfg,
	}

	return agent.NewAgentExecutor(coordinator, metrics, cfg), cfg, nil
}

func buildChatClient() (agent.ChatClient, error) {
	switch provider {
	case "openai":
		return providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"), model), nil
	case "google":
		return providers.NewGoogleProvider(os.Getenv("GOOGLE_API_KEY"), model), nil
	default:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: model,
		})
	}
}

func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

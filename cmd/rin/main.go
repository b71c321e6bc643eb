// Package main is the CLI entry point for the Rin agent runtime.
//
// Start an interactive chat session:
//
//	rin serve --config rin.yaml
//
// Configuration can reference environment variables, e.g. api_key:
// ${ANTHROPIC_API_KEY}.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rinlabs/rin/internal/agent"
	"github.com/rinlabs/rin/internal/agentstate"
	"github.com/rinlabs/rin/internal/approval"
	"github.com/rinlabs/rin/internal/backoff"
	"github.com/rinlabs/rin/internal/config"
	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/internal/orchestrator"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/schedule"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/tools"
	"github.com/rinlabs/rin/internal/toolstate"
)

var version = "dev"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rin",
		Short:         "Rin conversational agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rin", version)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	a, err := buildAgent(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	defer func() {
		if err := a.Cleanup(); err != nil {
			logger.Error("cleanup failed", "error", err)
		}
	}()

	sessionID, welcome, err := a.StartNewSession(ctx, "")
	if err != nil {
		return err
	}
	fmt.Println(welcome)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			message := strings.TrimSpace(line)
			if message == "" {
				continue
			}
			reply, err := a.GetResponse(ctx, agent.Request{SessionID: sessionID, Message: message})
			if err != nil {
				logger.Error("turn failed", "error", err)
				fmt.Println("Sorry, something went wrong. Please try again.")
				continue
			}
			fmt.Println(reply)
		}
	}
}

// buildAgent wires the full runtime from the configuration.
func buildAgent(cfg config.Config) (*agent.Agent, error) {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	state := toolstate.NewManager(store, nil)
	classifier := approval.NewClassifier(provider, cfg.LLM.DefaultModel)
	approvals := approval.NewManager(state, classifier, approval.Config{
		MaxRegenerationRounds: cfg.Approval.MaxRegenerationRounds,
	}, nil)
	schedules := schedule.NewManager(store, state, schedule.Config{
		MaxRetries: cfg.Executor.MaxRetries,
		Backoff: backoff.Policy{
			Base:   cfg.Executor.BaseDelay.Std(),
			Max:    cfg.Executor.MaxDelay.Std(),
			Factor: 2,
		},
	}, nil)

	reg := registry.New()
	twitterClient := &tools.DryRunTwitterClient{Logger: slog.Default()}
	if err := reg.Register(tools.TwitterDefinition(),
		tools.NewTwitter(state, approvals, schedules, provider, twitterClient, cfg.LLM.DefaultModel, nil)); err != nil {
		return nil, err
	}
	nearClient := &tools.DryRunNearClient{Logger: slog.Default()}
	priceClient := &tools.StaticPriceClient{Quote: 2.5}
	if err := reg.Register(tools.IntentsDefinition(),
		tools.NewIntents(state, approvals, schedules, provider, nearClient, priceClient, cfg.LLM.DefaultModel, nil)); err != nil {
		return nil, err
	}

	executor := schedule.NewExecutor(store, schedules, reg, schedule.ExecutorConfig{
		TickInterval:    cfg.Executor.TickInterval.Std(),
		ClaimTimeout:    cfg.Executor.ClaimTimeout.Std(),
		ToolCallTimeout: cfg.Executor.ToolCallTimeout.Std(),
	}, nil, nil)

	orch := orchestrator.New(reg, state, nil)
	sessions := agentstate.NewManager(store, orch, nil)
	return agent.New(store, sessions, provider, executor, cfg.LLM.DefaultModel, nil), nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.OpenSQLite(cfg.Path)
	default:
		return storage.NewMemory(), nil
	}
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		provider, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		provider, err := llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxTokens:    cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	}
}

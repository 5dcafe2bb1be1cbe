package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/gemrelay/gemrelay/internal/bot"
	"github.com/gemrelay/gemrelay/internal/chat"
	"github.com/gemrelay/gemrelay/internal/config"
	"github.com/gemrelay/gemrelay/internal/history"
	"github.com/gemrelay/gemrelay/internal/logger"
	"github.com/gemrelay/gemrelay/internal/media"
	"github.com/gemrelay/gemrelay/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and serve conversations",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideCache,
			provideResolver,
			provideChatClient,
			provideBot,
		),
		fx.Invoke(startBot),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(log *slog.Logger, cfg config.Config) (*store.Store, error) {
	return store.NewStore(log, cfg.DataDir, cfg.DefaultModel, cfg.DefaultSystemPrompt)
}

func provideCache() *history.Cache {
	return history.NewCache()
}

func provideResolver(log *slog.Logger) *media.Resolver {
	return media.NewResolver(log)
}

func provideChatClient(log *slog.Logger, cfg config.Config) (*chat.Client, error) {
	return chat.NewClient(context.Background(), log, cfg.GeminiAPIKey)
}

func provideBot(log *slog.Logger, cfg config.Config, st *store.Store, cache *history.Cache, resolver *media.Resolver, client *chat.Client) (*bot.Bot, error) {
	return bot.New(log, cfg, st, cache, resolver, client)
}

func startBot(lc fx.Lifecycle, b *bot.Bot) {
	lc.Append(fx.Hook{
		OnStart: b.Start,
		OnStop:  b.Stop,
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examhall/internal/auth"
	"github.com/pavelanni/examhall/internal/handler"
	appI18n "github.com/pavelanni/examhall/internal/i18n"
	"github.com/pavelanni/examhall/internal/llm"
	"github.com/pavelanni/examhall/internal/llm/prompts"
	"github.com/pavelanni/examhall/internal/store"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default response language (en, ru)")
	f.String("token-secret", "", "HMAC secret for API tokens (or set EXAMHALL_TOKEN_SECRET)")
	f.String("session-cleanup", "@every 1h", "Cron schedule for purging expired auth sessions")
	f.String("llm-url", "", "OpenAI-compatible API base URL; empty disables essay suggestions")
	f.String("llm-key", "", "API key for the LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Essay grading prompt variant (strict, standard, lenient)")
	return cmd
}

// newAdvisor returns the essay advisor, or nil when no LLM endpoint is set.
func newAdvisor(v *viper.Viper) (handler.EssayAdvisor, error) {
	url := v.GetString("llm-url")
	if url == "" {
		slog.Info("no LLM configured, essay suggestions disabled")
		return nil, nil
	}
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	c, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), variant)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	slog.Info("essay suggestions enabled", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	return c, nil
}

// startSessionReaper purges expired auth sessions on a schedule.
func startSessionReaper(db *store.Store, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := db.CleanupExpiredSessions(ctx, time.Now().UTC())
		if err != nil {
			slog.Error("session cleanup failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("purged expired auth sessions", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule session cleanup %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	tokens, err := auth.NewTokens(v.GetString("token-secret"))
	if err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := db.UserCount(cmd.Context())
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if users == 0 {
		slog.Warn("database has no users, import a catalog first")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	advisor, err := newAdvisor(v)
	if err != nil {
		return err
	}

	reaper, err := startSessionReaper(db, v.GetString("session-cleanup"))
	if err != nil {
		return err
	}
	defer func() { <-reaper.Stop().Done() }()

	h := handler.New(db, tokens, advisor)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", db.Driver(),
			"lang", lang,
			"llm", advisor != nil,
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

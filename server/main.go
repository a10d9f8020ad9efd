package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "projectflow",
	Short: "Project, stage and task tracking backend",
	Long:  `Projectflow serves the projects API: membership roles, stage ownership and task tracking on PostgreSQL.`,
	// usage output is noise for runtime failures like a dead database
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (migrates on start)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := NewStore(db).Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getenv("PROJECTFLOW_CONFIG", ""), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func setup() (Config, *slog.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return Config{}, nil, err
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()}))
	return cfg, log, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func serve(ctx context.Context, cfg Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store := NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	mailer, err := newMailer(cfg.Mail, log)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api := newAPI(store, NewService(store, mailer, cfg.BaseURL), cfg.Session, log)
	api.ping = store.Ping
	api.routes(mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: withLogging(log, mux),
		ReadTimeout: 15 * time.Second, ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: SSE streams stay open
		IdleTimeout: 120 * time.Second}

	go func() {
		log.Info("listening", "addr", cfg.Addr, "mail_driver", cfg.Mail.Driver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			log.Error("listen", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	log.Info("shutting down")
	ctxSh, cancelSh := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSh()
	return srv.Shutdown(ctxSh)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

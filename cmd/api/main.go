package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"newsagent/api/internal/app"
	"newsagent/api/internal/authpw"
	"newsagent/api/internal/config"
	"newsagent/api/internal/session"
	"newsagent/api/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRoot().ExecuteContext(ctx); err != nil {
		log.Printf("newsagent-api: %v", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "newsagent-api",
		Short:        "Newsagent XML API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run migrations and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, *store.PostgresStore, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DatabaseWait)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, afero.NewOsFs(), cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, store.NewPostgresStore(db), nil
}

func serve(ctx context.Context) error {
	cfg := config.Load()

	db, dataStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for login sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore)
	} else {
		log.Printf("Using PostgreSQL for login sessions")
		service = app.New(cfg, dataStore)
	}

	httpServer := app.NewHTTPServer(service)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Newsagent API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

type userAddFlags struct {
	displayName string
	role        string
}

func newUserAddCmd() *cobra.Command {
	flags := &userAddFlags{}
	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create a user; the password is read from NEWSAGENT_NEW_PASSWORD or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("NEWSAGENT_NEW_PASSWORD")
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				if _, err := fmt.Fscanln(cmd.InOrStdin(), &password); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}

			cfg := config.Load()
			db, dataStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := app.New(cfg, dataStore).CreateUser(cmd.Context(), authpw.CreateUserRequest{
				Username:    args[0],
				DisplayName: flags.displayName,
				Password:    password,
				Role:        flags.role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) with role %s\n", user.Username, user.ID, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.displayName, "name", "", "display name (defaults to the username)")
	cmd.Flags().StringVar(&flags.role, "role", "author", "viewer, author, editor or admin")
	return cmd
}

/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/seckatie/librarian/internal/core"
	"github.com/seckatie/librarian/internal/core/config"
	"github.com/seckatie/librarian/internal/core/db"
	"github.com/seckatie/librarian/internal/core/offline"
	"github.com/seckatie/librarian/internal/core/web"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Offline-capable companion for the library web application",
	Long: `librarian drives the library web application from the terminal and keeps
an offline copy of it.

Run without a subcommand to serve a caching proxy in front of the application:
pages and static assets are answered cache-first, API calls network-first, and
everything that is not a GET goes straight through. The client subcommands
(delete-book, borrow, return, pay-fine, send-notifications, submit-form,
search, watch) load a page of the application, act on it the way the page's
buttons and forms do, and route their requests through the same cache.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		store, err := initStore(cmd)
		if err != nil {
			log.Fatalf("Failed to initialize cache store: %v", err)
		}
		defer store.Close()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		manager, err := newManager(cfg, store, offline.NewMetrics(registry))
		if err != nil {
			log.Fatalf("Failed to create offline manager: %v", err)
		}
		manager.RegisterEventListener(offline.OnCacheDeletedEvent, func(event offline.Event) error {
			log.Printf("Deleted stale cache %s", event.(offline.CacheDeletedEvent).Name)
			return nil
		})

		numWorkers, err := cmd.Flags().GetInt("precache-workers")
		if err != nil {
			log.Fatalf("Failed to get precache workers: %v", err)
		}
		// Registered before Start so pages cached during install get their assets queued.
		precacher, err := core.NewPrecacher(manager, numWorkers)
		if err != nil {
			log.Fatalf("Failed to create precacher: %v", err)
		}

		report, err := manager.Start(ctx)
		if err != nil {
			log.Fatalf("Failed to start offline manager: %v", err)
		}
		log.Printf("App shell: %d cached, %d failed", len(report.Cached), len(report.Failed))

		precacher.Start(ctx)
		defer precacher.Wait()

		host, err := cmd.Flags().GetString("host")
		if err != nil {
			log.Fatalf("Failed to get host: %v", err)
		}
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			log.Fatalf("Failed to get port: %v", err)
		}

		origin, err := cfg.Origin()
		if err != nil {
			log.Fatalf("Invalid base URL: %v", err)
		}
		ws, err := web.NewServer(manager, origin, registry)
		if err != nil {
			log.Fatalf("Failed to initialize web server: %v", err)
		}
		if err := web.StartServer(ctx, fmt.Sprintf("%s:%d", host, port), ws); err != nil {
			log.Fatalf("Web server failed: %v", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "librarian.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringP("db", "d", "librarian-cache.db", "Path to the SQLite cache database file")
	rootCmd.PersistentFlags().String("base-url", "", "Base URL of the library application (overrides the config file)")
	rootCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.Flags().String("host", "localhost", "Host to listen on")

	// Precache workers flags
	rootCmd.Flags().IntP("precache-workers", "w", 1, "Number of asset precache workers to run")
}

// loadConfig reads .env.local, the config file and LIBRARIAN_* overrides, then
// applies --base-url.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load(".env.local")

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to read --config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	baseURL, err := cmd.Flags().GetString("base-url")
	if err != nil {
		return nil, fmt.Errorf("failed to read --base-url: %w", err)
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initStore(cmd *cobra.Command) (*db.DB, error) {
	dbPath, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, fmt.Errorf("failed to read --db: %w", err)
	}
	database, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Println("Cache store migrated successfully")

	return database, nil
}

// commandContext is cmd's context, or Background when it was run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newManager(cfg *config.Config, store offline.Storage, metrics *offline.Metrics) (*offline.Manager, error) {
	origin, err := cfg.Origin()
	if err != nil {
		return nil, err
	}
	return offline.NewManager(store, offline.Options{
		CacheName:   cfg.CacheName,
		Manifest:    cfg.Manifest,
		APIMarker:   cfg.APIMarker,
		OfflinePage: cfg.OfflinePage,
		Origin:      origin,
		Metrics:     metrics,
	})
}

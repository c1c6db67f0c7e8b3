package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/UtkarshDeoli/Kite/ai"
	"github.com/UtkarshDeoli/Kite/ai/memory"
	"github.com/UtkarshDeoli/Kite/ai/metrics"
	"github.com/UtkarshDeoli/Kite/internal/profile"
	"github.com/UtkarshDeoli/Kite/internal/version"
	"github.com/UtkarshDeoli/Kite/store"
	"github.com/UtkarshDeoli/Kite/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "kite",
	Short: `An automation assistant memory service. Records completed workflows and retrieves them for reuse with hybrid keyword and semantic search.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			// Try to load .env from the current directory, missing file is fine.
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

		var embedder ai.EmbeddingService
		aiConfig := ai.NewConfigFromProfile(instanceProfile)
		if aiConfig.Enabled {
			inner, err := ai.NewEmbeddingService(&aiConfig.Embedding)
			if err != nil {
				slog.Error("failed to create embedding service", "error", err)
				return
			}
			embedder = ai.NewBoundedEmbeddingService(inner, aiConfig.Embedding.Workers)
		} else {
			slog.Warn("embedding disabled, retrieval degrades to keyword matching only")
		}

		index := memory.NewEmbeddingIndex(storeInstance, embedder, exporter)

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal for most process managers.
		signal.Notify(c, terminationSignals...)

		if port := viper.GetInt("metrics-port"); port > 0 {
			go serveMetrics(port, exporter)
		}
		go runMaintenance(ctx, index, viper.GetDuration("sync-interval"))

		printGreetings(instanceProfile)

		go func() {
			<-c
			cancel()
		}()
		<-ctx.Done()
	},
}

// runMaintenance periodically backfills missing workflow embeddings and
// removes orphaned ones.
func runMaintenance(ctx context.Context, index *memory.EmbeddingIndex, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := index.SyncMissing(ctx, 50); err != nil {
				slog.Warn("embedding backfill failed", "error", err)
			}
			if _, err := index.CleanupOrphaned(ctx); err != nil {
				slog.Warn("orphan cleanup failed", "error", err)
			}
		}
	}
}

func serveMetrics(port int, exporter *metrics.PrometheusExporter) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.GetHandler())
	addr := fmt.Sprintf(":%d", port)
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("sync-interval", "5m")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "port for the prometheus metrics endpoint, 0 disables it")
	rootCmd.PersistentFlags().Duration("sync-interval", 5*time.Minute, "interval between embedding maintenance sweeps")

	for _, flag := range []string{"mode", "data", "driver", "dsn", "metrics-port", "sync-interval"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("kite")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Kite %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backcast/backcast/internal/config"
	"github.com/backcast/backcast/internal/engine"
	"github.com/backcast/backcast/internal/server"
	"github.com/backcast/backcast/internal/store"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "config file path (default ~/.backcast/config.yaml)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := serveConfigPath
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.New(db, cfg)
	if err := eng.RestoreSnapshot(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: graph snapshot not restored: %v\n", err)
	}
	if err := eng.Resume(time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: resume open context: %v\n", err)
	}

	// Detect and configure embedder: Ollama when reachable, TF-IDF fallback.
	if engine.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
		if err := eng.SetEmbedder(engine.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, 768)); err != nil {
			return fmt.Errorf("configure embedder: %w", err)
		}
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", cfg.Embedding.Model)
	} else {
		emb, tfidfErr := engine.NewTFIDFEmbedder(db, 512)
		if tfidfErr != nil {
			fmt.Fprintf(os.Stderr, "warning: tfidf embedder init failed: %v\n", tfidfErr)
		} else {
			if err := eng.SetEmbedder(emb); err != nil {
				return fmt.Errorf("configure embedder: %w", err)
			}
			fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback)\n")
		}
	}

	// Backfill vectors for contexts that closed while no embedder was up.
	if eng.Oracle() != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if n, err := eng.EmbedMissing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "embed missing: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "  embedded %d missing contexts\n", n)
			}
		}()
	}

	eng.StartMaintenance()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "backcast serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}

	// Close the open context and write the final snapshot before the db goes.
	eng.Stop()
	return nil
}

// cmd/sage is the entry point for the Sage assistant daemon. It wires the
// configured storage backend, the LLM providers, and the pipeline
// components, starts the follow-up sweeper and the approval watcher, then
// serves assistant turns as a line-oriented loop on stdin/stdout.
//
// Startup sequence:
//  1. Load configuration (.env, TOML file, SAGE_* environment).
//  2. Open the entity store and vector index for the configured engine.
//  3. Build the LLM gate and providers.
//  4. Assemble the facade, context builder, indexer, and tracker.
//  5. Start the follow-up sweeper and the spool watcher.
//  6. Read user messages from stdin; each line is one assistant turn.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/scrypster/sage/internal/config"
	"github.com/scrypster/sage/internal/dataaccess"
	"github.com/scrypster/sage/internal/followup"
	"github.com/scrypster/sage/internal/indexer"
	"github.com/scrypster/sage/internal/llm"
	"github.com/scrypster/sage/internal/notify"
	"github.com/scrypster/sage/internal/orchestrator"
	"github.com/scrypster/sage/internal/search"
	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/internal/storage/postgres"
	"github.com/scrypster/sage/internal/storage/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("sage: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		log.Fatalf("failed to create data directory %q: %v", cfg.Storage.DataPath, err)
	}

	entities, rels, vectors, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}

	gate := llm.NewGate(cfg.LLM.MaxConcurrent, cfg.LLM.RequestsPerSecond)
	text, err := llm.NewTextGenerator(cfg.LLM, gate)
	if err != nil {
		log.Fatalf("failed to build text provider: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM, gate)
	if err != nil {
		log.Fatalf("failed to build embedding provider: %v", err)
	}

	data, err := dataaccess.New(entities, rels, vectors, embedder, cfg.Search.EmbeddingCacheSize)
	if err != nil {
		log.Fatalf("failed to build facade: %v", err)
	}
	defer func() { _ = data.Close() }()

	spool := notify.NewEventWriter(cfg.Notify.SpoolPath)
	builder := search.NewContextBuilder(data, cfg.Search)
	index := indexer.New(data, text)
	tracker := followup.NewTracker(data, text, spool, cfg.Followup, cfg.User)
	orch := orchestrator.New(builder, index, tracker, text, spool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := followup.NewSweeper(tracker, cfg.Followup.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	watcher := notify.NewEventWatcher(cfg.Notify.SpoolPath)
	watcher.Subscribe("", func(event notify.Event) {
		log.Printf("spool event %s for %s", event.Type, event.EntityID)
	})
	if err := watcher.Start(); err != nil {
		log.Printf("spool watcher unavailable: %v", err)
	} else {
		defer watcher.Stop()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
		os.Stdin.Close()
	}()

	log.Printf("ready (engine=%s provider=%s model=%s)",
		cfg.Storage.Engine, cfg.LLM.Provider, text.GetModel())
	runLoop(ctx, orch)
}

// runLoop serves one assistant turn per stdin line until EOF or shutdown.
// The whole stdin session is one conversation, so each turn gets a stable
// position in it and re-runs of a transcript land on the same memory IDs.
func runLoop(ctx context.Context, orch *orchestrator.Orchestrator) {
	conversationID := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		message := scanner.Text()
		if message == "" {
			continue
		}

		resp, err := orch.HandleMessage(ctx, conversationID, message)
		if err != nil {
			log.Printf("turn failed: %v", err)
			fmt.Println("Something went wrong handling that; see the log.")
			continue
		}
		fmt.Println(resp.Text)
		if resp.RequiresApproval {
			fmt.Println("[draft written to spool; approve it there to send]")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("stdin: %v", err)
	}
}

// openStorage builds the entity, relationship, and vector stores for the
// configured engine. Both backends serve the same interfaces; SQLite is the
// single-file default, Postgres adds pgvector-accelerated search.
func openStorage(cfg *config.Config) (storage.EntityStore, storage.RelationshipStore, storage.VectorIndex, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, postgres.NewVectorIndex(store), nil
	default:
		dbPath := filepath.Join(cfg.Storage.DataPath, "sage.db")
		store, err := sqlite.NewStore(dbPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store, nil
	}
}

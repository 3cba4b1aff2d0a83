package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finquiry/finquiry/internal/config"
	"github.com/finquiry/finquiry/internal/embedding"
	"github.com/finquiry/finquiry/internal/memory"
	"github.com/finquiry/finquiry/internal/pipeline"
	"github.com/finquiry/finquiry/internal/research"
	"github.com/finquiry/finquiry/internal/retrieval"
	"github.com/finquiry/finquiry/internal/server"
	"github.com/finquiry/finquiry/internal/vectorstore"
	"github.com/finquiry/finquiry/internal/vectorstore/memstore"
	"github.com/finquiry/finquiry/internal/vectorstore/postgres"
	"github.com/finquiry/finquiry/internal/vectorstore/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select the long-term backend: pgvector, then embedded SQLite, then
	// the bounded in-process store.
	backend := vectorstore.Select(ctx,
		postgres.Open(cfg.Memory.PostgresDSN),
		sqlite.Open(cfg.Memory.SQLitePath),
		memstore.Open(cfg.Memory.FallbackMaxRecords),
	)
	if backend != nil {
		log.Printf("memory: long-term backend: %s", backend.Kind())
		defer backend.Close()
	} else {
		log.Printf("warning: memory: no long-term backend available, insights disabled")
	}

	var provider embedding.Provider
	if cfg.Embedding.Enabled {
		provider = embedding.NewOllamaProvider(embedding.OllamaConfig{
			BaseURL:    cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
	} else {
		log.Printf("memory: embeddings disabled, semantic search degraded to text matching")
	}

	longTerm := memory.NewLongTermMemory(provider, backend, memory.LongTermConfig{
		BackendTimeout: cfg.Memory.BackendTimeout,
	})
	cache := memory.NewConversationCache(memory.CacheConfig{
		MaxExchanges:    cfg.Memory.MaxExchanges,
		ConversationTTL: cfg.Memory.ConversationTTL,
	})
	defer cache.Close()
	mgr := memory.NewManager(cache, longTerm)

	searcher := retrieval.NewWebSearcher(retrieval.SearcherConfig{
		BaseURL: cfg.Research.SearchBaseURL,
	})
	scraper := retrieval.NewWebScraper(0)

	orch := pipeline.NewOrchestrator(
		research.NewQueryAnalyzer(),
		research.NewPlanner(),
		searcher,
		scraper,
		research.NewAnalyzer(),
		research.NewSynthesizer(),
		mgr,
		pipeline.Config{
			MaxSearchResults:      cfg.Research.MaxSearchResults,
			MaxSourcesPerResponse: cfg.Research.MaxSources,
			MaxConcurrent:         cfg.Research.MaxConcurrent,
			StageTimeout:          cfg.Research.StageTimeout,
		},
	)

	addr, err := server.Start(ctx, cfg, orch, mgr)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Finquiry agent running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // give in-flight connections time to close
}

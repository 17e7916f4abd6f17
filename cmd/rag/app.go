package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/blobstore"
	"github.com/tbourn/go-rag-backend/internal/config"
	"github.com/tbourn/go-rag-backend/internal/embedding"
	"github.com/tbourn/go-rag-backend/internal/extract"
	"github.com/tbourn/go-rag-backend/internal/llm"
	"github.com/tbourn/go-rag-backend/internal/repo"
	"github.com/tbourn/go-rag-backend/internal/services"
	"github.com/tbourn/go-rag-backend/internal/vectorstore"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg  config.Config
	db   *gorm.DB
	docs *services.DocumentService
	chat *services.ChatService

	closers []func() error
}

// newApp opens the database and connects the vector store, object storage and
// model provider selected by cfg.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	vectors, err := a.vectorStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	storage, err := a.objectStorage(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	emb := embedding.NewOpenAI(embedding.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.EmbeddingModel,
		BatchSize: cfg.OpenAI.EmbeddingBatchSize,
	})
	model := llm.NewOpenAI(llm.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.LLMModel,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   int64(cfg.OpenAI.MaxTokens),
	})

	a.docs = services.NewDocumentService(emb, vectors, storage, repo.NewDocumentRepo(db), extract.Registry())
	a.docs.ChunkSize = cfg.ChunkSize
	a.docs.UpsertConcurrency = cfg.UpsertConcurrency
	a.docs.Deduplicate = cfg.Deduplicate

	a.chat = services.NewChatService(emb, vectors, model)
	a.chat.TopK = cfg.TopK
	if cfg.SystemPrompt != "" {
		a.chat.SystemPrompt = cfg.SystemPrompt
	}
	return a, nil
}

func (a *app) vectorStore(ctx context.Context) (services.VectorStore, error) {
	if a.cfg.Vector.Backend == "memory" {
		log.Warn().Msg("using in-memory vector store; embeddings are lost on exit")
		return vectorstore.NewMemory(), nil
	}
	q, err := vectorstore.NewQdrant(ctx, vectorstore.QdrantConfig{
		Host:       a.cfg.Vector.Host,
		Port:       a.cfg.Vector.Port,
		APIKey:     a.cfg.Vector.APIKey,
		UseTLS:     a.cfg.Vector.UseTLS,
		Collection: a.cfg.Vector.Collection,
		Dimension:  a.cfg.Vector.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", a.cfg.Vector.Host, a.cfg.Vector.Port, err)
	}
	a.closers = append(a.closers, q.Close)
	return q, nil
}

func (a *app) objectStorage(ctx context.Context) (services.ObjectStorage, error) {
	if a.cfg.Storage.Backend == "minio" {
		m, err := blobstore.NewMinio(ctx, blobstore.MinioConfig{
			Endpoint:  a.cfg.Storage.Endpoint,
			AccessKey: a.cfg.Storage.AccessKey,
			SecretKey: a.cfg.Storage.SecretKey,
			Bucket:    a.cfg.Storage.Bucket,
			UseSSL:    a.cfg.Storage.UseSSL,
			Region:    a.cfg.Storage.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("connect minio %s: %w", a.cfg.Storage.Endpoint, err)
		}
		return m, nil
	}
	l, err := blobstore.NewLocal(a.cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	return l, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"librarytracker/internal/app"
	"librarytracker/internal/config"
	"librarytracker/internal/ratelimit"
	"librarytracker/internal/server"
	"librarytracker/internal/util"
	"librarytracker/pkg/ai"
	"librarytracker/pkg/storage"
	"librarytracker/pkg/store"
	"librarytracker/pkg/vector"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	bookStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	ollamaClient := ai.NewOllamaClient(cfg.OllamaBaseURL)
	embedder := ai.NewOllamaEmbedder(ollamaClient, cfg.EmbeddingModel, cfg.EmbeddingDim)

	index, err := buildIndex(cfg, bookStore, embedder)
	if err != nil {
		log.Fatalf("failed to init semantic index: %v", err)
	}

	generator, err := buildGenerator(cfg, ollamaClient)
	if err != nil {
		log.Fatalf("failed to init generator: %v", err)
	}

	openaiClient, err := ai.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.TranscriptionModel, cfg.CoverGenerationModel)
	if err != nil {
		log.Fatalf("failed to init openai client: %v", err)
	}
	var images ai.ImageGenerator
	if cfg.CoverGenerationEnabled {
		images = openaiClient
	}

	covers, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:      bookStore,
		Index:      index,
		Generator:  generator,
		Transcribe: openaiClient,
		Images:     images,
		Covers:     covers,
		PromptDir:  cfg.PromptDir,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.AIRequestsPerMin, time.Minute)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		AILimiter:      limiter,
		TrustedProxies: trustedProxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("library tracker listening", slog.String("addr", addr),
		slog.String("indexProvider", cfg.IndexProvider),
		slog.String("generationProvider", cfg.GenerationProvider))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func buildIndex(cfg config.FileConfig, bookStore *store.GormStore, embedder ai.Embedder) (vector.Index, error) {
	switch cfg.IndexProvider {
	case "qdrant":
		return vector.NewQdrantIndex(cfg.QdrantAddr, cfg.QdrantCollection, embedder, cfg.EmbeddingDim)
	default:
		return vector.NewPgVectorIndex(bookStore.DB(), embedder, cfg.EmbeddingDim)
	}
}

func buildGenerator(cfg config.FileConfig, ollamaClient *ai.OllamaClient) (ai.TextGenerator, error) {
	switch cfg.GenerationProvider {
	case "ollama":
		return ai.NewOllamaGenerator(ollamaClient, cfg.GenerationModel), nil
	case "openai-compat":
		return ai.NewOpenAICompatGenerator(cfg.OpenAICompatURL, cfg.OpenAICompatKey, cfg.GenerationModel), nil
	default:
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	}
}

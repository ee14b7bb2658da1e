package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/veilwork/flowbridge/internal/api"
	"github.com/veilwork/flowbridge/internal/config"
	"github.com/veilwork/flowbridge/internal/connector"
	"github.com/veilwork/flowbridge/internal/credentials"
	"github.com/veilwork/flowbridge/internal/embedding"
	"github.com/veilwork/flowbridge/internal/vectorstore"
	"github.com/veilwork/flowbridge/internal/wallet"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting flowbridge connector service...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/flowbridge.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	conn, err := buildConnector(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build connector", zap.Error(err))
	}

	// Build HTTP handler
	handler := api.NewHandler(conn, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("flowbridge listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down flowbridge...")
	srv.Shutdown(context.Background())
}

// buildConnector wires the facade from configuration: model client, wallet
// resolver, and a lazily opened vector store backend.
func buildConnector(cfg *config.Config, logger *zap.Logger) (*connector.Connector, error) {
	embCfg := embedding.Config{
		Endpoint:  cfg.Embedding.Endpoint,
		ModelID:   cfg.Embedding.ModelID,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}
	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "local":
		embedder = embedding.NewLocalClient(embCfg)
	default:
		embedder = embedding.NewAPIClient(embCfg)
	}

	distance, err := vectorstore.ParseDistanceStrategy(cfg.VectorStore.DistanceStrategy)
	if err != nil {
		return nil, err
	}

	var factory connector.StoreFactory
	switch cfg.VectorStore.Backend {
	case "qdrant":
		factory = func(ctx context.Context, _ wallet.Descriptor) (vectorstore.Store, error) {
			return vectorstore.OpenQdrant(cfg.VectorStore.Qdrant, logger)
		}
	default:
		factory = func(ctx context.Context, desc wallet.Descriptor) (vectorstore.Store, error) {
			return vectorstore.OpenPG(ctx, cfg.VectorStore.Postgres, desc, logger)
		}
	}

	return connector.New(
		connector.Config{
			Credentials:    cfg.CredentialConfig(),
			ModelID:        cfg.Embedding.ModelID,
			Dimension:      cfg.Embedding.Dimension,
			TableName:      cfg.VectorStore.TableName,
			Distance:       distance,
			WalletLocation: cfg.Wallet.Location,
		},
		credentials.NewResolver(logger),
		embedder,
		wallet.NewResolver(cfg.Wallet.Location, logger),
		factory,
		logger,
	), nil
}

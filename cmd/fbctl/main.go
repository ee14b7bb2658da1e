package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/veilwork/flowbridge/internal/config"
	"github.com/veilwork/flowbridge/internal/connector"
	"github.com/veilwork/flowbridge/internal/credentials"
	"github.com/veilwork/flowbridge/internal/embedding"
	"github.com/veilwork/flowbridge/internal/vectorstore"
	"github.com/veilwork/flowbridge/internal/wallet"
	"go.uber.org/zap"
)

// fbctl runs one resolve → validate → provision pass against a configuration
// file and reports the outcome. Useful at deploy time to catch configuration
// errors before any flow execution touches the connector.
func main() {
	cfgPath := flag.String("config", "configs/flowbridge.json", "path to the connector config file")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline for the provisioning pass")
	flag.Parse()

	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	conn, err := build(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build connector: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	session, err := conn.Ensure(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provisioning failed: %v\n", err)
		os.Exit(2)
	}

	fmt.Println("provisioning ok")
	fmt.Printf("  credentials: %s\n", session.Credentials)
	fmt.Printf("  dimension:   %d\n", session.Dimension)
	if session.Warning != nil {
		fmt.Printf("  warning:     %s\n", session.Warning)
	}
	fmt.Printf("  table:       %s (%s, handle %s)\n",
		session.Handle.Table, session.Handle.State, session.Handle.ID)
}

func build(cfg *config.Config, logger *zap.Logger) (*connector.Connector, error) {
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

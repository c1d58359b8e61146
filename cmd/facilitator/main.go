// @title x402 Facilitator API
// @version 1.0
// @description Escrow-backed x402 payment facilitator for EVM chains: verifies
// @description and settles ERC-3009 payment authorizations, and manages the
// @description escrow session lifecycle (capture, reclaim) that sits behind
// @description the exact and escrow payment schemes.
// @description
// @description ## Authentication
// @description /verify, /settle, and /capture require a bearer credential
// @description (API key or cron secret). /payer/* requires the payer-scoped
// @description JWT minted by a successful /settle call.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @tag.name payments
// @tag.description Payment verification and settlement
// @tag.name capture
// @tag.description Batch capture scheduler
// @tag.name payer
// @tag.description Payer session management and reclaim
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"facilitator/internal/capture"
	"facilitator/internal/chainadapter"
	"facilitator/internal/config"
	"facilitator/internal/db"
	"facilitator/internal/reclaim"
	"facilitator/internal/router"
	"facilitator/internal/server"
	"facilitator/internal/session"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv, closeDeps, err := buildServer(ctx, cfg)
	if err != nil {
		slog.Error("failed to build server", "error", err)
		cancel()
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	closeDeps()

	slog.Info("server exited")
}

// buildServer wires the chain clients, session engine, scheme router,
// capture scheduler, and reclaim orchestrator into a server.Server. The
// returned closer releases chain-client connections the server itself
// doesn't own (db.Close is handled by server.Shutdown).
func buildServer(ctx context.Context, cfg *config.Config) (*server.Server, func(), error) {
	database, err := db.New(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	clients := chainadapter.NewClientSet()

	wallet, err := buildWallet(ctx, cfg, clients)
	if err != nil {
		database.Close()
		clients.Close()
		return nil, nil, err
	}

	escrow := chainadapter.NewEscrowClient(wallet, clients)
	tokens := chainadapter.NewTokenClient(clients, wallet.Address(), wallet)

	networks := session.NetworksFromConfig(cfg)
	engine := session.New(database, escrow, tokens, networks)
	schemeRouter := router.New(engine, tokens)

	scheduler := capture.New(database, escrow, wallet, networks, cfg)
	orchestrator := reclaim.New(database, escrow, wallet, engine, cfg)

	srv, err := server.New(cfg, server.Deps{
		DB:           database,
		Router:       schemeRouter,
		Scheduler:    scheduler,
		Orchestrator: orchestrator,
		Wallet:       wallet,
	})
	if err != nil {
		database.Close()
		clients.Close()
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	slog.Info("operator wallet ready", "address", wallet.Address())
	for _, n := range cfg.Networks {
		if n.Active {
			slog.Info("network active", "id", n.ID, "chain_id", n.ChainID)
		}
	}

	return srv, clients.Close, nil
}

// buildWallet constructs the operator wallet from a local private key when
// FACILITATOR_PRIVATE_KEY is set, otherwise from AWS KMS using cfg.KMS.
func buildWallet(ctx context.Context, cfg *config.Config, clients *chainadapter.ClientSet) (chainadapter.OperatorWallet, error) {
	if hexKey := os.Getenv("FACILITATOR_PRIVATE_KEY"); hexKey != "" {
		wallet, err := chainadapter.NewLocalKey(hexKey, clients)
		if err != nil {
			return nil, fmt.Errorf("failed to construct local operator wallet: %w", err)
		}
		return wallet, nil
	}

	if cfg.KMS.KeyID == "" {
		return nil, fmt.Errorf("no operator wallet configured: set FACILITATOR_PRIVATE_KEY or kms.key_id")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for KMS operator wallet: %w", err)
	}

	wallet, err := chainadapter.NewCustodialProvider(ctx, kms.NewFromConfig(awsCfg), cfg.KMS.KeyID, clients)
	if err != nil {
		return nil, fmt.Errorf("failed to construct KMS operator wallet: %w", err)
	}
	return wallet, nil
}

// setupLogging configures the global slog logger: JSON for production,
// text for development, matching the facilitator's request logging.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler

	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	slog.SetDefault(slog.New(handler))
}

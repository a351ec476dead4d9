package main

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/stablemint/tokensale-backend/internal/chain"
	"github.com/stablemint/tokensale-backend/internal/config"
	"github.com/stablemint/tokensale-backend/internal/db"
	"github.com/stablemint/tokensale-backend/internal/handlers"
	"github.com/stablemint/tokensale-backend/internal/services"
	"github.com/stablemint/tokensale-backend/internal/store"
	"github.com/stablemint/tokensale-backend/pkg/logger"
)

func main() {
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("configuration error: %v", err)
	}
	if !common.IsHexAddress(cfg.USDTAddress) || !common.IsHexAddress(cfg.SaleToken) {
		logger.Fatalf("USDT_CONTRACT_ADDRESS and TOKEN_CONTRACT_ADDRESS must be hex addresses")
	}

	ctx := context.Background()

	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		logger.Fatalf("failed to connect to MongoDB: %v", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Errorf("error disconnecting from MongoDB: %v", err)
		}
	}()
	logger.Infof("connected to MongoDB")

	ledger := store.NewStore(client.Database("tokensale"))
	if err := ledger.EnsureIndexes(ctx); err != nil {
		logger.Fatalf("failed to create indexes: %v", err)
	}

	gateway, err := chain.NewEthGateway(ctx, cfg.RPCURL, cfg.SignerKey, cfg.ChainID)
	if err != nil {
		logger.Fatalf("failed to initialize chain gateway: %v", err)
	}
	if gateway.SignerAddress() != common.HexToAddress(cfg.SignerAddress) {
		logger.Fatalf("OWNER_ADDRESS %s does not match the configured private key (%s)",
			cfg.SignerAddress, gateway.SignerAddress().Hex())
	}
	logger.Infof("chain gateway ready, signer %s", gateway.SignerAddress().Hex())

	purchaseService := services.NewPurchaseService(
		gateway,
		ledger,
		common.HexToAddress(cfg.USDTAddress),
		common.HexToAddress(cfg.SaleToken),
		cfg.Price(),
	)
	reportingService := services.NewReportingService(ledger)

	purchaseHandler := handlers.NewPurchaseHandler(purchaseService)
	reportingHandler := handlers.NewReportingHandler(reportingService)

	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")

	router.HandleFunc("/api/buy-tokens", purchaseHandler.BuyTokens).Methods("POST")
	router.HandleFunc("/api/token-price", purchaseHandler.TokenPrice).Methods("GET")
	router.HandleFunc("/api/usdt-allowance", purchaseHandler.UsdtAllowance).Methods("GET")

	router.HandleFunc("/api/transaction-history", reportingHandler.History).Methods("GET")
	router.HandleFunc("/api/stats", reportingHandler.Stats).Methods("GET")
	router.HandleFunc("/api/export-transactions", reportingHandler.Export).Methods("GET")
	router.HandleFunc("/api/stuck-transactions", reportingHandler.StuckTransactions).Methods("GET")

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // purchases wait for two on-chain confirmations
	}
	logger.Infof("server running on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

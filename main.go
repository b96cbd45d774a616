package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/hiiliketocode/polycopy-sub006/api"
	"github.com/hiiliketocode/polycopy-sub006/config"
	"github.com/hiiliketocode/polycopy-sub006/handlers"
	"github.com/hiiliketocode/polycopy-sub006/middleware"
	"github.com/hiiliketocode/polycopy-sub006/storage"
	"github.com/hiiliketocode/polycopy-sub006/syncer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("POLYCOPY_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.NewPostgres()
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	autoCloser, dataClient, clob, err := buildAutoCloser(cfg, store)
	if err != nil {
		log.Fatalf("failed to build auto-close job: %v", err)
	}

	// Set up router
	r := gin.Default()

	h := handlers.NewHandler(cfg, store, dataClient, clob, autoCloser)

	// Routes
	r.GET("/healthz", h.Healthz)
	r.GET("/api/leaderboard", h.GetLeaderboard)
	r.GET("/api/wallets/:wallet/trades", middleware.ValidateWallet(), h.GetWalletTrades)
	r.GET("/api/wallets/:wallet/positions", middleware.ValidateWallet(), h.GetWalletPositions)

	cron := r.Group("/api/cron", middleware.CronAuth())
	cron.GET("/auto-close", h.CronAutoClose)

	r.POST("/api/credentials/derive", middleware.CronAuth(), h.DeriveCredentials)

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	log.Printf("Server starting on http://localhost:%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}

// buildAutoCloser wires the reconciliation job from config and
// environment. The signing key is required: the whole point of the job
// is submitting reduce-only orders.
func buildAutoCloser(cfg *config.Config, store storage.Store) (*syncer.AutoCloser, *api.DataClient, *api.ClobClient, error) {
	auth, err := api.NewAuth()
	if err != nil {
		return nil, nil, nil, err
	}

	clob, err := api.NewClobClient(cfg.API.ClobURL, auth)
	if err != nil {
		return nil, nil, nil, err
	}
	if funder := os.Getenv("POLYMARKET_FUNDER_ADDRESS"); funder != "" {
		clob.SetFunder(funder)
	}

	proxyURL := os.Getenv("STATIC_EGRESS_PROXY_URL")
	if proxyURL != "" {
		if err := clob.SetProxy(proxyURL); err != nil {
			return nil, nil, nil, err
		}
	}
	gate, err := api.NewEgressGate(proxyURL, cfg.API.ClobURL)
	if err != nil {
		return nil, nil, nil, err
	}

	if _, err := clob.DeriveAPICreds(context.Background()); err != nil {
		log.Printf("[main] API credential derivation failed, fill lookups will be treated as pending: %v", err)
	}

	dataClient := api.NewDataClient(cfg.API.DataURL)
	email := api.NewEmailClient(os.Getenv("RESEND_API_KEY"), cfg.Notify.FromAddress)

	notifier := syncer.NewNotifier(store, email, clob, dataClient, cfg.Notify.BatchSize)
	autoCloser := syncer.NewAutoCloser(store, clob, dataClient, gate, notifier, cfg.AutoClose)

	return autoCloser, dataClient, clob, nil
}

// Command autoclose runs a single reconciliation pass from the command
// line, for manual catch-up when the scheduler misses a slot.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/hiiliketocode/polycopy-sub006/api"
	"github.com/hiiliketocode/polycopy-sub006/config"
	"github.com/hiiliketocode/polycopy-sub006/storage"
	"github.com/hiiliketocode/polycopy-sub006/syncer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("POLYCOPY_CONFIG"))
	if err != nil {
		log.Fatalf("[autoclose] failed to load config: %v", err)
	}

	store, err := storage.NewPostgres()
	if err != nil {
		log.Fatalf("[autoclose] failed to init storage: %v", err)
	}
	defer store.Close()

	log.Println("[autoclose] PostgreSQL storage initialized")

	auth, err := api.NewAuth()
	if err != nil {
		log.Fatalf("[autoclose] signing key unavailable: %v", err)
	}
	clob, err := api.NewClobClient(cfg.API.ClobURL, auth)
	if err != nil {
		log.Fatalf("[autoclose] failed to create CLOB client: %v", err)
	}
	if funder := os.Getenv("POLYMARKET_FUNDER_ADDRESS"); funder != "" {
		clob.SetFunder(funder)
	}

	proxyURL := os.Getenv("STATIC_EGRESS_PROXY_URL")
	if proxyURL != "" {
		if err := clob.SetProxy(proxyURL); err != nil {
			log.Fatalf("[autoclose] bad proxy URL: %v", err)
		}
	}
	gate, err := api.NewEgressGate(proxyURL, cfg.API.ClobURL)
	if err != nil {
		log.Fatalf("[autoclose] failed to create egress gate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := clob.DeriveAPICreds(ctx); err != nil {
		log.Printf("[autoclose] API credential derivation failed: %v", err)
	}

	dataClient := api.NewDataClient(cfg.API.DataURL)
	email := api.NewEmailClient(os.Getenv("RESEND_API_KEY"), cfg.Notify.FromAddress)
	notifier := syncer.NewNotifier(store, email, clob, dataClient, cfg.Notify.BatchSize)

	job := syncer.NewAutoCloser(store, clob, dataClient, gate, notifier, cfg.AutoClose)

	result, err := job.Run(ctx)
	if err != nil {
		log.Fatalf("[autoclose] pass failed: %v", err)
	}

	log.Printf("[autoclose] done: %d orders checked, %d notifications sent",
		result.TradesChecked, result.NotificationsSent)
}

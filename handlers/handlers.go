package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hiiliketocode/polycopy-sub006/api"
	"github.com/hiiliketocode/polycopy-sub006/config"
	"github.com/hiiliketocode/polycopy-sub006/storage"
	"github.com/hiiliketocode/polycopy-sub006/syncer"
)

const leaderboardCacheKey = "leaderboard:volume"

// Handler handles HTTP requests
type Handler struct {
	cfg        *config.Config
	store      storage.Store
	data       *api.DataClient
	clob       *api.ClobClient
	autoCloser *syncer.AutoCloser
	httpClient *http.Client
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, store storage.Store, data *api.DataClient, clob *api.ClobClient, autoCloser *syncer.AutoCloser) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      store,
		data:       data,
		clob:       clob,
		autoCloser: autoCloser,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CronAutoClose runs one reconciliation pass. Guarded by bearer auth in
// middleware; the scheduler treats any 200 as success.
func (h *Handler) CronAutoClose(c *gin.Context) {
	result, err := h.autoCloser.Run(c.Request.Context())
	if err != nil {
		log.Printf("[Handler] Auto-close pass failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "auto-close pass failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tradesChecked":     result.TradesChecked,
		"notificationsSent": result.NotificationsSent,
	})
}

// GetLeaderboard proxies the Polymarket volume leaderboard, cached in
// Redis so browsing users don't hammer the upstream.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := h.store.CacheGet(ctx, leaderboardCacheKey); err == nil && cached != "" {
		c.Data(http.StatusOK, "application/json", []byte(cached))
		return
	}

	resp, err := h.httpClient.Get(h.cfg.API.LeaderboardURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load leaderboard"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.JSON(http.StatusBadGateway, gin.H{"error": "leaderboard upstream returned " + strconv.Itoa(resp.StatusCode)})
		return
	}

	var payload json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "invalid leaderboard response"})
		return
	}

	ttl := time.Duration(h.cfg.API.LeaderboardTTLMins) * time.Minute
	if err := h.store.CacheSet(ctx, leaderboardCacheKey, string(payload), ttl); err != nil {
		log.Printf("[Handler] Failed to cache leaderboard: %v", err)
	}

	c.Data(http.StatusOK, "application/json", payload)
}

// GetWalletTrades returns recent activity for a wallet, straight from the
// data API.
func (h *Handler) GetWalletTrades(c *gin.Context) {
	wallet := strings.ToLower(strings.TrimSpace(c.Param("wallet")))
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet required"})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	trades, err := h.data.GetTrades(c.Request.Context(), wallet, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// GetWalletPositions returns all open positions for a wallet.
func (h *Handler) GetWalletPositions(c *gin.Context) {
	wallet := strings.ToLower(strings.TrimSpace(c.Param("wallet")))
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet required"})
		return
	}

	positions, err := h.data.GetPositions(c.Request.Context(), wallet)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

// DeriveCredentials refreshes the configured signer's CLOB API
// credentials. The secret and passphrase stay server-side; only the key
// id is echoed back.
func (h *Handler) DeriveCredentials(c *gin.Context) {
	creds, err := h.clob.DeriveAPICreds(c.Request.Context())
	if err != nil {
		log.Printf("[Handler] Credential derivation failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "credential derivation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"apiKey": creds.APIKey})
}

// Healthz is the liveness probe for the scheduler's host.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ClobClient handles CLOB API interactions for closing positions
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	auth          *Auth
	apiCreds      *APICreds
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA, 1=Magic/Email, 2=Browser proxy
}

// APICreds holds API credentials for CLOB
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// MarketInfo represents market information from CLOB
type MarketInfo struct {
	ConditionID     string          `json:"condition_id"`
	Question        string          `json:"question"`
	Tokens          []ClobTokenInfo `json:"tokens"`
	MinimumTickSize string          `json:"minimum_tick_size"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	NegRisk         bool            `json:"neg_risk"`
}

// ClobTokenInfo represents token information from CLOB
type ClobTokenInfo struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   string `json:"price"`
	Winner  bool   `json:"winner"`
}

// TickSize returns the market's tick size, defaulting to 0.01 when the
// field is absent or malformed.
func (m *MarketInfo) TickSize() float64 {
	tick, err := strconv.ParseFloat(m.MinimumTickSize, 64)
	if err != nil || tick <= 0 {
		return 0.01
	}
	return tick
}

// TokenForOutcome returns the token matching an outcome label.
func (m *MarketInfo) TokenForOutcome(outcome string) *ClobTokenInfo {
	for i := range m.Tokens {
		if strings.EqualFold(m.Tokens[i].Outcome, outcome) {
			return &m.Tokens[i]
		}
	}
	return nil
}

// WinnerToken returns the resolved winning token, if any.
func (m *MarketInfo) WinnerToken() *ClobTokenInfo {
	for i := range m.Tokens {
		if m.Tokens[i].Winner {
			return &m.Tokens[i]
		}
	}
	return nil
}

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill (non-resting, partial fills allowed)
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
)

// Order represents a signed order
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	SideInt       int    `json:"-"` // Internal use for EIP-712 signing
}

// OrderRequest is the payload for placing an order
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse is the raw response from placing an order
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched, live, delayed, unmatched
}

// SubmitKind tags the normalized outcome of an order submission.
type SubmitKind int

const (
	SubmitSubmitted SubmitKind = iota
	SubmitRejected
	SubmitGateUnavailable
)

// SubmitResult is the normalized outcome of an order submission. Every
// exchange response and transport error funnels through Normalize so
// callers branch on Kind instead of inspecting loose response shapes.
type SubmitResult struct {
	Kind      SubmitKind
	OrderID   string
	Status    string
	ErrorType string
	Message   string
}

// Normalize converts a raw exchange response (or transport error) into a
// SubmitResult.
func Normalize(resp *OrderResponse, err error) SubmitResult {
	if err != nil {
		return SubmitResult{
			Kind:      SubmitRejected,
			ErrorType: "EXCHANGE_ERROR",
			Message:   err.Error(),
		}
	}
	if resp == nil || !resp.Success {
		msg := "order rejected by exchange"
		if resp != nil && resp.ErrorMsg != "" {
			msg = resp.ErrorMsg
		}
		return SubmitResult{
			Kind:      SubmitRejected,
			ErrorType: "ORDER_REJECTED",
			Message:   msg,
		}
	}
	return SubmitResult{
		Kind:    SubmitSubmitted,
		OrderID: resp.OrderID,
		Status:  resp.Status,
	}
}

// GateUnavailable builds the SubmitResult for a failed egress precondition.
func GateUnavailable(err error) SubmitResult {
	return SubmitResult{
		Kind:      SubmitGateUnavailable,
		ErrorType: ErrorCodeEgressUnavailable,
		Message:   err.Error(),
	}
}

// CloseOrderRequest describes a reduce-only close order to submit.
type CloseOrderRequest struct {
	TokenID string
	Side    string // "BUY" or "SELL"
	Size    float64
	Price   float64
	NegRisk bool
}

// OpenOrder is the exchange's view of a previously submitted order.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// FilledSize returns the matched size as a float.
func (o *OpenOrder) FilledSize() float64 {
	size, err := strconv.ParseFloat(o.SizeMatched, 64)
	if err != nil {
		return 0
	}
	return size
}

// NewClobClient creates a new CLOB API client
func NewClobClient(baseURL string, auth *Auth) (*ClobClient, error) {
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}

	client := &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:          auth,
		chainID:       137, // Polygon mainnet
		signatureType: 0,   // Default to EOA
	}
	if auth != nil {
		client.funder = auth.GetAddress()
	}

	return client, nil
}

// SetFunder sets the funder address for Magic/Email wallets.
// The funder is the Polymarket profile address where USDC is held.
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
}

// SetSignatureType sets the signature type (0=EOA, 1=Magic/Email, 2=Browser proxy)
func (c *ClobClient) SetSignatureType(sigType int) {
	c.signatureType = sigType
}

// SetProxy routes all exchange traffic through a static-IP egress proxy.
func (c *ClobClient) SetProxy(proxyURL string) error {
	if proxyURL == "" {
		return nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	return nil
}

// DeriveAPICreds derives or creates API credentials
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	// First try to delete any existing credentials
	c.deleteAPICreds(ctx)

	// Try to create new credentials
	creds, err := c.createAPICreds(ctx)
	if err == nil && creds != nil {
		c.apiCreds = creds
		log.Printf("[CLOB] Created new API credentials")
		return creds, nil
	}

	// If that fails, try to derive existing credentials
	log.Printf("[CLOB] Creating creds failed (%v), trying to derive existing", err)
	creds, err = c.deriveAPICreds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive API creds: %w", err)
	}

	c.apiCreds = creds
	return creds, nil
}

func (c *ClobClient) deleteAPICreds(ctx context.Context) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/auth/api-key", nil)
	if err != nil {
		return
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		log.Printf("[CLOB] Deleted existing API credentials")
	}
}

func (c *ClobClient) deriveAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("derive API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}

	return &creds, nil
}

func (c *ClobClient) createAPICreds(ctx context.Context) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	// Create with a nonce to generate unique API key
	nonce := time.Now().UnixNano()
	body := fmt.Sprintf(`{"nonce":%d}`, nonce)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/auth/api-key", bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create API creds failed: %d %s", resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}

	return &creds, nil
}

// GetMarket fetches market information
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/markets/"+conditionID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get market failed: %d %s", resp.StatusCode, string(body))
	}

	var market MarketInfo
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return nil, fmt.Errorf("failed to decode market: %w", err)
	}

	return &market, nil
}

// GetOrder looks up a previously submitted order by exchange id.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (*OpenOrder, error) {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/data/order/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order failed: %d %s", resp.StatusCode, string(body))
	}

	var order OpenOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}

	return &order, nil
}

// SubmitOrder builds, signs, and submits a fill-and-kill close order,
// returning the normalized result.
func (c *ClobClient) SubmitOrder(ctx context.Context, req CloseOrderRequest) SubmitResult {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return Normalize(nil, fmt.Errorf("failed to get API creds: %w", err))
		}
	}

	order, err := c.createSignedOrder(req.TokenID, req.Side, req.Size, req.Price, req.NegRisk)
	if err != nil {
		return Normalize(nil, fmt.Errorf("failed to create signed order: %w", err))
	}

	resp, err := c.postOrder(ctx, order, OrderTypeFAK)
	return Normalize(resp, err)
}

func (c *ClobClient) createSignedOrder(tokenID string, side string, size float64, price float64, negRisk bool) (*Order, error) {
	// Convert to base units. USDC and outcome tokens both use 6 decimals
	// on Polymarket. MakerAmount is what we give (USDC for buy, tokens for
	// sell); TakerAmount is what we get.
	var makerAmount, takerAmount *big.Int
	sideInt := 0
	sideStr := "BUY"

	sizeUnits := new(big.Float).Mul(big.NewFloat(size), big.NewFloat(1e6))
	sizeInt := new(big.Int)
	sizeUnits.Int(sizeInt)

	usdcAmount := new(big.Float).Mul(big.NewFloat(size*price), big.NewFloat(1e6))
	usdcInt := new(big.Int)
	usdcAmount.Int(usdcInt)

	if side == "BUY" {
		makerAmount = usdcInt
		takerAmount = sizeInt
	} else {
		makerAmount = sizeInt
		takerAmount = usdcInt
		sideInt = 1
		sideStr = "SELL"
	}

	// For Magic wallets: maker = funder (where funds are), signer = private
	// key wallet. For EOA wallets: maker = signer.
	order := &Order{
		Salt:          generateSalt(c.auth.GetAddress()),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideStr,
		SignatureType: c.signatureType,
		SideInt:       sideInt,
	}

	signature, err := c.signOrder(order, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	order.Signature = signature

	return order, nil
}

func (c *ClobClient) signOrder(order *Order, negRisk bool) (string, error) {
	// Polymarket uses different contract addresses for neg_risk markets
	var verifyingContract string
	if negRisk {
		verifyingContract = "0xC5d563A36AE78145C45a50134d48A1215220f80a" // NegRiskCTFExchange
	} else {
		verifyingContract = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E" // CTFExchange
	}

	chainID := math.NewHexOrDecimal256(c.chainID)
	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           chainID,
		VerifyingContract: verifyingContract,
	}

	salt := big.NewInt(order.Salt)
	tokenId := new(big.Int)
	tokenId.SetString(order.TokenID, 10)
	makerAmount := new(big.Int)
	makerAmount.SetString(order.MakerAmount, 10)
	takerAmount := new(big.Int)
	takerAmount.SetString(order.TakerAmount, 10)
	expiration := new(big.Int)
	expiration.SetString(order.Expiration, 10)
	nonce := new(big.Int)
	nonce.SetString(order.Nonce, 10)
	feeRateBps := new(big.Int)
	feeRateBps.SetString(order.FeeRateBps, 10)

	message := map[string]interface{}{
		"salt":          salt,
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       tokenId,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    expiration,
		"nonce":         nonce,
		"feeRateBps":    feeRateBps,
		"side":          big.NewInt(int64(order.SideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, c.auth.GetPrivateKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func (c *ClobClient) postOrder(ctx context.Context, order *Order, orderType OrderType) (*OrderResponse, error) {
	payload := OrderRequest{
		Order:     *order,
		Owner:     c.apiCreds.APIKey, // Owner is the API key
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// Browser-like headers to avoid Cloudflare blocking
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", "https://polymarket.com")
	req.Header.Set("Referer", "https://polymarket.com/")

	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	return &orderResp, nil
}

func (c *ClobClient) addL2Headers(req *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	// Signature message format: timestamp + method + path + body
	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		message += string(bodyBytes)
	}

	signature := c.hmacSign(message, c.apiCreds.APISecret)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.GetAddress().Hex())
	req.Header.Set("POLY_API_KEY", c.apiCreds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.apiCreds.APIPassphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", signature)
}

func (c *ClobClient) hmacSign(message string, secret string) string {
	// Decode URL-safe base64 secret
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			// If not base64, use as-is
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

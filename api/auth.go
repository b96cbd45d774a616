package api

import (
	"crypto/ecdsa"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const clobAuthMessage = "This message attests that I control the given wallet"

// Auth holds the signing key used for CLOB L1 authentication and order
// signing.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
}

// NewAuth creates an Auth from the POLYMARKET_PRIVATE_KEY environment
// variable.
func NewAuth() (*Auth, error) {
	return NewAuthFromEnvVar("POLYMARKET_PRIVATE_KEY")
}

// NewAuthFromEnvVar creates an Auth from the named environment variable.
func NewAuthFromEnvVar(envVar string) (*Auth, error) {
	pkHex := strings.TrimSpace(os.Getenv(envVar))
	if pkHex == "" {
		return nil, fmt.Errorf("%s not set", envVar)
	}
	return NewAuthFromKey(pkHex)
}

// NewAuthFromKey creates an Auth from a hex-encoded private key.
func NewAuthFromKey(pkHex string) (*Auth, error) {
	pkHex = strings.TrimPrefix(strings.TrimSpace(pkHex), "0x")

	privateKey, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key")
	}

	return &Auth{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    137, // Polygon mainnet
	}, nil
}

// GetAddress returns the signer's address.
func (a *Auth) GetAddress() common.Address {
	return a.address
}

// GetPrivateKey returns the private key (needed for signing).
func (a *Auth) GetPrivateKey() *ecdsa.PrivateKey {
	return a.privateKey
}

// SignRequest produces L1 authentication headers for CLOB key-management
// endpoints. The signature is an EIP-712 attestation over the signer
// address, timestamp, and nonce.
func (a *Auth) SignRequest() (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := int64(0)

	chainID := math.NewHexOrDecimal256(a.chainID)
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: chainID,
		},
		Message: map[string]interface{}{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     math.NewHexOrDecimal256(nonce),
			"message":   clobAuthMessage,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash auth payload: %w", err)
	}

	signature, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign auth payload: %w", err)
	}
	signature[64] += 27

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": fmt.Sprintf("0x%x", signature),
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}

// generateSalt returns a per-order salt. Seeded with the wall clock plus a
// cheap hash of the address so two processes sharing a key do not collide
// within the same nanosecond.
func generateSalt(addr common.Address) int64 {
	h := fnv.New32a()
	h.Write(addr.Bytes())
	r := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(h.Sum32())))
	return r.Int63n(1_000_000_000)
}

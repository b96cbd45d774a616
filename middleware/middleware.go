package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// Ethereum address regex: 0x followed by 40 hex characters
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// CronAuth guards scheduler endpoints with a bearer secret. An
// unconfigured secret rejects everything: a cron route that fires signed
// exchange orders must never be open by accident.
func CronAuth() gin.HandlerFunc {
	secret := os.Getenv("CRON_SECRET")

	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "cron secret not configured",
			})
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid credentials",
			})
			return
		}

		c.Next()
	}
}

// ValidateWallet validates that the wallet path parameter is a valid
// Ethereum address and stores the normalized form.
func ValidateWallet() gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.Param("wallet")
		if wallet == "" {
			c.Next()
			return
		}

		wallet = strings.ToLower(strings.TrimSpace(wallet))

		if !ethAddressRegex.MatchString(wallet) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid wallet format. Must be a valid Ethereum address (0x + 40 hex characters)",
			})
			return
		}

		c.Set("validatedWallet", wallet)
		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(strings.ToLower(strings.TrimSpace(addr)))
}

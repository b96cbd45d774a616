package syncer

import (
	"strconv"
	"strings"
	"time"

	"github.com/hiiliketocode/polycopy-sub006/models"
)

const (
	// RetryCeiling is the number of failed attempts after which the job
	// permanently skips an order; closing it becomes a manual action.
	RetryCeiling = 10

	// Cooldowns between attempts. The first escalation doubles the wait.
	shortCooldown         = 5 * time.Minute
	longCooldown          = 10 * time.Minute
	longCooldownFromRetry = 5
)

// legacyRetryPrefix is the encoding the previous system used to pack the
// retry counter into the error column.
const legacyRetryPrefix = "RETRY_COUNT:"

// CooldownFor returns the wait enforced before the next attempt given the
// number of prior failures.
func CooldownFor(retryCount int) time.Duration {
	if retryCount >= longCooldownFromRetry {
		return longCooldown
	}
	return shortCooldown
}

// InCooldown reports whether an order must be skipped this pass because
// its cooldown window has not elapsed.
func InCooldown(retryCount int, lastAttempt *time.Time, now time.Time) bool {
	if retryCount <= 0 || lastAttempt == nil {
		return false
	}
	return now.Sub(*lastAttempt) < CooldownFor(retryCount)
}

// AtCeiling reports whether an order has exhausted its automated retries.
func AtCeiling(retryCount int) bool {
	return retryCount >= RetryCeiling
}

// ShouldEmailFailure reports whether a failure email is due for the
// post-increment retry count. Emails go out at attempts 3 and 6 and at
// the terminal attempt, never in between, so a stuck order does not spam
// the user every few minutes.
func ShouldEmailFailure(retryCount int) bool {
	return retryCount == 3 || retryCount == 6 || retryCount == RetryCeiling
}

// DecodeLegacyRetry parses an error value that may carry the legacy
// "RETRY_COUNT:<n>|<message>" encoding, returning the embedded count and
// the bare message. Values without the prefix decode as count 0.
func DecodeLegacyRetry(errValue string) (int, string) {
	if !strings.HasPrefix(errValue, legacyRetryPrefix) {
		return 0, errValue
	}
	rest := strings.TrimPrefix(errValue, legacyRetryPrefix)
	sep := strings.Index(rest, "|")
	if sep < 0 {
		return 0, errValue
	}
	count, err := strconv.Atoi(rest[:sep])
	if err != nil || count < 0 {
		return 0, errValue
	}
	return count, rest[sep+1:]
}

// EffectiveRetryCount returns an order's retry count, folding in rows
// written by the legacy system that encoded the counter inside the error
// string. The count is monotonically non-decreasing until the order
// reaches a terminal state.
func EffectiveRetryCount(o *models.FollowedOrder) int {
	legacy, _ := DecodeLegacyRetry(o.AutoCloseError)
	if legacy > o.AutoCloseRetryCount {
		return legacy
	}
	return o.AutoCloseRetryCount
}

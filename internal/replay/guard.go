// Package replay implements the short-TTL idempotency window that absorbs
// duplicate webhook deliveries. The guard is advisory: it exists to suppress
// the common duplicate-delivery case cheaply, not to provide transactional
// exactly-once semantics. On any store failure it fails open toward
// re-processing, never toward silently dropping a legitimate message.
package replay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
	"github.com/tbourn/go-inquiry-backend/internal/platform"
)

// Guard answers "have I seen this event" for a bounded window. It is backed
// by the shared relational store so horizontally scaled gateway instances
// observe each other's entries.
type Guard struct {
	DB  *gorm.DB
	TTL time.Duration
	Log zerolog.Logger

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewGuard constructs a Guard with the given window. A non-positive TTL
// falls back to the 300s default.
func NewGuard(db *gorm.DB, ttl time.Duration, log zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Guard{DB: db, TTL: ttl, Log: log, now: time.Now}
}

// IsDuplicate records (platform, eventID) on first sight and returns false;
// within the TTL window a repeat returns true without re-recording. The
// check-and-record is a single atomic insert on the primary key, so two
// concurrent deliveries of the same event race safely: exactly one wins.
func (g *Guard) IsDuplicate(ctx context.Context, p platform.Platform, eventID string) bool {
	if eventID == "" {
		return false
	}
	now := g.now().UTC()
	key := string(p) + ":" + eventID

	// Reap a stale entry for this key so an expired window reads as unseen.
	if err := g.DB.WithContext(ctx).
		Where("key = ? AND expires_at <= ?", key, now).
		Delete(&domain.ReplayEntry{}).Error; err != nil {
		g.Log.Warn().Err(err).Str("key", key).Msg("replay guard reap failed; failing open")
		return false
	}

	entry := domain.ReplayEntry{Key: key, ExpiresAt: now.Add(g.TTL)}
	if err := g.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		if isUniqueViolation(err) {
			return true
		}
		g.Log.Warn().Err(err).Str("key", key).Msg("replay guard insert failed; failing open")
		return false
	}
	return false
}

// Forget removes the recorded sighting for (platform, eventID). The gateway
// calls it when processing fails after IsDuplicate recorded the key: the
// platform's redelivery must be re-processed, not suppressed, or the message
// is lost for good. Deletion is best effort; a surviving entry only delays
// the retry until the TTL lapses, it never drops it silently forever because
// the entry expires.
func (g *Guard) Forget(ctx context.Context, p platform.Platform, eventID string) {
	if eventID == "" {
		return
	}
	key := string(p) + ":" + eventID
	if err := g.DB.WithContext(ctx).Where("key = ?", key).Delete(&domain.ReplayEntry{}).Error; err != nil {
		g.Log.Warn().Err(err).Str("key", key).Msg("replay guard forget failed")
	}
}

// ValidTimestamp rejects events whose timestamp is further than maxAge from
// now in either direction, defending against delayed replay of an old but
// correctly signed payload.
func (g *Guard) ValidTimestamp(eventMs int64, maxAge time.Duration) bool {
	if eventMs <= 0 {
		return false
	}
	diff := g.now().UTC().Sub(time.UnixMilli(eventMs))
	if diff < 0 {
		diff = -diff
	}
	return diff <= maxAge
}

// isUniqueViolation matches the duplicate-key shapes produced by GORM and
// the pure-Go SQLite driver, which often reports plain-text errors.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

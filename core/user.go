package core

import (
	"context"
	"time"
)

// Tier is the subscription level controlling storage and generation ceilings.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

type (
	User struct {
		ID        string    `json:"id"`
		Subject   string    `json:"subject"`
		Login     string    `json:"login"`
		Email     string    `json:"email"`
		AvatarURL string    `json:"avatarUrl"`
		Name      string    `json:"name"`
		Tier      Tier      `json:"tier"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// TierLimits are the ceilings a tier grants per billing period.
	TierLimits struct {
		StorageBytes    int64 `json:"storageBytes"`
		ImagesPerPeriod int   `json:"imagesPerPeriod"`
		VideosPerPeriod int   `json:"videosPerPeriod"`
	}

	// Quota is the per-user aggregate the upload and generation paths consult
	// and update. StorageUsedBytes is clamped at zero on decrement so a
	// double-processed delete can never drive it negative.
	Quota struct {
		UserID           string    `json:"-"`
		Tier             Tier      `json:"tier"`
		StorageUsedBytes int64     `json:"storageUsedBytes"`
		ImagesThisPeriod int       `json:"imagesThisPeriod"`
		VideosThisPeriod int       `json:"videosThisPeriod"`
		PeriodStart      time.Time `json:"periodStart"`
		PeriodEnd        time.Time `json:"periodEnd"`
	}

	// QuotaStore defines the persistence layer for quotas. Reading a user
	// with no row yields a fresh free-tier quota rather than an error.
	QuotaStore interface {
		// GetQuota returns the quota for a user, creating the default free
		// quota on first access.
		GetQuota(ctx context.Context, userID string) (*Quota, error)

		// SaveQuota replaces the stored quota wholesale.
		SaveQuota(ctx context.Context, quota *Quota) error

		// AddStorageUsed adjusts the storage counter by delta (may be
		// negative) and returns the new value. The result is clamped at zero.
		AddStorageUsed(ctx context.Context, userID string, delta int64) (int64, error)

		// IncrementGeneration bumps the period counter for one media kind.
		IncrementGeneration(ctx context.Context, userID string, kind AssetKind) error
	}
)

var tierLimits = map[Tier]TierLimits{
	TierFree: {StorageBytes: 500 << 20, ImagesPerPeriod: 50, VideosPerPeriod: 5},
	TierPro:  {StorageBytes: 50 << 30, ImagesPerPeriod: 1000, VideosPerPeriod: 100},
}

// LimitsFor returns the ceilings for a tier; unknown tiers get free limits.
func LimitsFor(t Tier) TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// NewQuota returns the default quota for a user, free tier, period starting now.
func NewQuota(userID string, now time.Time) *Quota {
	return &Quota{
		UserID:      userID,
		Tier:        TierFree,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
}

// RollPeriod resets the generation counters when now has crossed the period
// end, advancing the window by whole months until it covers now. Storage usage
// carries over; only the period counters reset. Reports whether anything
// changed so callers know to persist.
func (q *Quota) RollPeriod(now time.Time) bool {
	if q.PeriodEnd.IsZero() {
		q.PeriodStart = now
		q.PeriodEnd = now.AddDate(0, 1, 0)
		q.ImagesThisPeriod = 0
		q.VideosThisPeriod = 0
		return true
	}
	if now.Before(q.PeriodEnd) {
		return false
	}
	for !now.Before(q.PeriodEnd) {
		q.PeriodStart = q.PeriodEnd
		q.PeriodEnd = q.PeriodEnd.AddDate(0, 1, 0)
	}
	q.ImagesThisPeriod = 0
	q.VideosThisPeriod = 0
	return true
}

// Limits is shorthand for LimitsFor(q.Tier).
func (q *Quota) Limits() TierLimits {
	return LimitsFor(q.Tier)
}

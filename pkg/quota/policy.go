// Package quota decides whether a message may be sent, from the sender's
// tier, lifetime count and the chat's category. It performs no I/O.
package quota

import (
	"errors"

	"marefa/pkg/domain"
)

const (
	// FreeMessageLimit is the lifetime message allowance of the free tier.
	FreeMessageLimit int64 = 50
	// GuestMessageLimit is the per-chat allowance for unauthenticated users.
	GuestMessageLimit int64 = 5
)

var (
	ErrTierInsufficient  = errors.New("research mode requires the research or teams plan")
	ErrGuestLimitReached = errors.New("guest message limit reached, please sign up to continue")
	ErrQuotaExceeded     = errors.New("free message limit reached, please upgrade your plan")
)

// Request describes one attempted send.
type Request struct {
	Authenticated bool
	Tier          domain.SubscriptionTier
	MessageCount  int64
	Category      domain.Category
	// GuestMessages is the number of user messages already in the chat.
	// Only consulted when Authenticated is false.
	GuestMessages int64
}

// Evaluate applies the rules in order: research gate, guest ceiling, free
// ceiling. Basic, research and teams have no count ceiling.
func Evaluate(req Request) error {
	tier := req.Tier
	if !req.Authenticated {
		tier = domain.TierFree
	}
	if !CanUseCategory(tier, req.Category) {
		return ErrTierInsufficient
	}
	if !req.Authenticated {
		if req.GuestMessages >= GuestMessageLimit {
			return ErrGuestLimitReached
		}
		return nil
	}
	if limit, ok := Ceiling(tier); ok && req.MessageCount >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// CanUseCategory reports whether a tier may open or message a chat in category.
func CanUseCategory(tier domain.SubscriptionTier, category domain.Category) bool {
	if category != domain.CategoryResearch {
		return true
	}
	return tier == domain.TierResearch || tier == domain.TierTeams
}

// Ceiling returns the lifetime message ceiling for tier, if it has one.
// Unknown tiers are treated as free.
func Ceiling(tier domain.SubscriptionTier) (int64, bool) {
	switch tier {
	case domain.TierBasic, domain.TierResearch, domain.TierTeams:
		return 0, false
	default:
		return FreeMessageLimit, true
	}
}

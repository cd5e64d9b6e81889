package service

import (
	"time"

	"github.com/privacykit/shortlink/internal/app/model"
)

// DenialReason explains why a resolve attempt was refused.
type DenialReason string

const (
	// ReasonInactive means the link was already latched off.
	ReasonInactive DenialReason = "inactive"
	// ReasonExpired means the absolute expiry time has passed.
	ReasonExpired DenialReason = "expired"
	// ReasonClickLimit means the click budget is spent.
	ReasonClickLimit DenialReason = "click_limit"
)

// Decision is the outcome of evaluating a link against the current time.
type Decision struct {
	Allow  bool
	Reason DenialReason
	// Deactivate is set when the denial must latch the link off as a side
	// effect (time expiry or click limit discovered on read).
	Deactivate bool
}

// Evaluate is the pure lifecycle decision. Check order is fixed: inactive,
// then time expiry, then click limit, then allow. The order determines which
// reason is reported when several conditions hold at once.
//
// Expiry is strict (now > expires_at): a resolve at the exact expiry instant
// still succeeds. The click-limit pre-check uses >= so a record already at
// its limit denies; the post-increment latch is folded into the store's
// conditional update.
func Evaluate(link *model.Link, now time.Time) Decision {
	if !link.Active {
		return Decision{Reason: ReasonInactive}
	}
	if link.ExpiresAt != nil && now.After(*link.ExpiresAt) {
		return Decision{Reason: ReasonExpired, Deactivate: true}
	}
	if link.MaxClicks != nil && link.ClickCount >= *link.MaxClicks {
		return Decision{Reason: ReasonClickLimit, Deactivate: true}
	}
	return Decision{Allow: true}
}

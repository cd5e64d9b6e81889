package model

import "time"

// LinkDeactivatedEvent is emitted when a link latches from active to
// inactive. Consumers use it to tombstone the code in the gone-cache so
// replicas stop hitting the store for terminal links.
type LinkDeactivatedEvent struct {
	ID         string     `json:"id"`
	ShortCode  string     `json:"short_code"`
	Reason     string     `json:"reason"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	MaxClicks  *int       `json:"max_clicks,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

const (
	DeactivationStreamName    = "LINKS"
	DeactivationStreamSubject = "links.deactivated"
	DeactivationConsumerName  = "gone-cache-writer"
	DeactivationStreamMaxSize = 1024 * 1024 * 16 // 16MB
)

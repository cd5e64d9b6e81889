package model

import "time"

// Link is the sole persisted entity: a short code pointing at a destination
// URL, with optional expiration policies. Active is a one-way latch; once a
// link is deactivated it never comes back.
type Link struct {
	ID          int64      `db:"id" gorm:"primaryKey;autoIncrement"`
	OriginalURL string     `db:"original_url" gorm:"type:text;not null"`
	ShortCode   string     `db:"short_code" gorm:"size:32;not null;uniqueIndex:idx_links_short_code"`
	MaxClicks   *int       `db:"max_clicks"`
	ClickCount  int        `db:"click_count" gorm:"not null;default:0"`
	ExpiresAt   *time.Time `db:"expires_at"`
	Active      bool       `db:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time  `db:"created_at" gorm:"autoCreateTime"`
}

// TableName pins the table name so raw SQL and GORM agree.
func (Link) TableName() string { return "links" }

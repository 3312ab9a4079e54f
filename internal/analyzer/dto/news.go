package dto

import (
	"time"
)

// NewsItem is one normalized feed entry. Both supported syndication shapes
// (RSS channel/item and Atom entry) are reduced to this type before ranking.
type NewsItem struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Summary   string    `json:"summary"`
}

// HasPublished reports whether a publication timestamp could be parsed.
func (n NewsItem) HasPublished() bool {
	return !n.Published.IsZero()
}

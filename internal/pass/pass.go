package pass

import "time"

// Pass is the ledger entry for an exported visitor pass. It never holds the
// photo or the rendered image.
type Pass struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Size      int       `json:"size"` // Encoded PNG size in bytes
	CreatedAt time.Time `json:"created_at"`
}

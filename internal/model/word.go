package model

import "time"

// Word is one registered term. Word is stored normalized (trimmed,
// lower-cased); Signature is always derived from it and never set by callers
// independently.
type Word struct {
	ID        int64     `db:"id" json:"-"`
	Word      string    `db:"word" json:"word"`
	Signature string    `db:"signature" json:"signature"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

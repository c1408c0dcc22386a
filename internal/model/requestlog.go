package model

import "time"

// RequestLogEntry is an append-only record of one lookup or insertion attempt.
// ProcessingTimeUs is in microseconds.
type RequestLogEntry struct {
	ID               int64     `db:"id" json:"id"`
	Endpoint         string    `db:"endpoint" json:"endpoint"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	ProcessingTimeUs float64   `db:"processing_time_us" json:"processing_time_us"`
	Word             *string   `db:"word" json:"word,omitempty"`
}

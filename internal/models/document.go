package models

import "time"

// Position is a 1-based line/column pair, matching editor-widget conventions.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range spans [Start, End); the end position is exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// ChangeOperation is a single edit submitted against a document. It is
// ephemeral: applied once by the sync engine, broadcast, then discarded.
type ChangeOperation struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	Range       Range     `json:"range"`
	Text        string    `json:"text"`
	BaseVersion int64     `json:"base_version"`
	Timestamp   time.Time `json:"timestamp"`
}

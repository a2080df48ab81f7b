package arenadto

import "encoding/json"

// EventsResponse answers a since-N cursor. When Resync is set, Snapshot replaces the missing events.
type EventsResponse struct {
	Events   []json.RawMessage `json:"events"`
	Head     int64             `json:"head"`
	Resync   bool              `json:"resync"`
	Snapshot *SessionView      `json:"snapshot,omitempty"`
}

// VerifyReport is the outcome of replaying a session's move list.
type VerifyReport struct {
	SessionID   string `json:"session_id"`
	MoveCount   int    `json:"move_count"`
	StoredFEN   string `json:"stored_fen"`
	ReplayedFEN string `json:"replayed_fen"`
	Consistent  bool   `json:"consistent"`
	Problem     string `json:"problem,omitempty"`
}

package arenadto

// MoveResult is returned by every mutating operation.
type MoveResult struct {
	Session    *SessionView `json:"session"`
	LegalMoves []string     `json:"legal_moves,omitempty"`
	Seq        int64        `json:"seq"`
	Finished   bool         `json:"finished"`
	Result     string       `json:"result,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	// Rematch is the follow-up session once both sides asked for one.
	Rematch *SessionView `json:"rematch,omitempty"`
	// Error is set when the operation was rejected but still produced a result, e.g. a flag-fall.
	Error *DomainError `json:"error,omitempty"`
}

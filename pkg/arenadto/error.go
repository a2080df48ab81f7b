package arenadto

// Error codes carried by DomainError.
const (
	CodeBusy           = "session_busy"
	CodeIllegalMove    = "illegal_move"
	CodeNotYourTurn    = "not_your_turn"
	CodeNotParticipant = "not_participant"
	CodeSessionOver    = "session_over"
	CodeTimeExpired    = "time_expired"
	CodeCorrupt        = "corrupt_session"
	CodeNotClaimable   = "not_claimable"
	CodeNoDrawOffer    = "no_draw_offer"
	CodeNotFound       = "not_found"
	CodeInvalidRequest = "invalid_request"
	CodeUnavailable    = "unavailable"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena error"
}

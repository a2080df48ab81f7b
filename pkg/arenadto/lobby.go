package arenadto

import "time"

// ChallengeRequest opens a challenge; the creator is the calling user.
type ChallengeRequest struct {
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Preset string `json:"preset,omitempty"`
	Rated  bool   `json:"rated,omitempty"`
}

type AcceptRequest struct {
	Name string `json:"name,omitempty"`
}

type ChallengeView struct {
	Code      string      `json:"code"`
	State     string      `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	Creator   PlayerView  `json:"creator"`
	Opponent  *PlayerView `json:"opponent,omitempty"`
	Color     string      `json:"color,omitempty"`
	Preset    string      `json:"preset,omitempty"`
	Rated     bool        `json:"rated"`
	SessionID string      `json:"session_id,omitempty"`
}

type ChallengeList struct {
	Challenges []ChallengeView `json:"challenges"`
}

package arenadto

import "time"

type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Bot    bool   `json:"bot,omitempty"`
	Rating int    `json:"rating,omitempty"`
}

type TimeControlView struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	WhiteInitial   int64  `json:"white_initial"`
	BlackInitial   int64  `json:"black_initial"`
	WhiteIncrement int64  `json:"white_increment"`
	BlackIncrement int64  `json:"black_increment"`
}

// SessionView is the client-facing snapshot. Clock values are computed at AsOf.
type SessionView struct {
	ID          string          `json:"id"`
	White       PlayerView      `json:"white"`
	Black       PlayerView      `json:"black"`
	TimeControl TimeControlView `json:"time_control"`
	Rated       bool            `json:"rated"`

	Status    string   `json:"status"`
	Result    string   `json:"result,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	MovesUCI  []string `json:"moves_uci"`
	MovesSAN  []string `json:"moves_san"`
	MoveCount int      `json:"move_count"`
	FEN       string   `json:"fen"`
	ToMove    string   `json:"to_move"`

	WhiteLeft    int64 `json:"white_left"`
	BlackLeft    int64 `json:"black_left"`
	ClockRunning bool  `json:"clock_running"`

	DrawOffer string `json:"draw_offer,omitempty"`
	RematchBy string `json:"rematch_by,omitempty"`
	RematchID string `json:"rematch_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastMoveAt *time.Time `json:"last_move_at,omitempty"`
	AsOf       time.Time  `json:"as_of"`

	EventSeq int64 `json:"event_seq"`
}

package arenadto

type PlayerSpec struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Bot    bool   `json:"bot,omitempty"`
	Rating int    `json:"rating,omitempty"`
}

// CreateRequest starts a session. Either Preset or both custom initial values must be set.
type CreateRequest struct {
	Creator        PlayerSpec `json:"creator"`
	Opponent       PlayerSpec `json:"opponent"`
	Color          string     `json:"color,omitempty"`
	Preset         string     `json:"preset,omitempty"`
	Rated          bool       `json:"rated,omitempty"`
	Unlimited      bool       `json:"unlimited,omitempty"`
	WhiteInitial   int64      `json:"white_initial,omitempty"`
	BlackInitial   int64      `json:"black_initial,omitempty"`
	WhiteIncrement int64      `json:"white_increment,omitempty"`
	BlackIncrement int64      `json:"black_increment,omitempty"`
}

type MoveRequest struct {
	Move string `json:"move"`
}

type DrawResponseRequest struct {
	Accept bool `json:"accept"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

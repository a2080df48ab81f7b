package domain

import "fmt"

// Category names a time-control family.
type Category string

const (
	CategoryUnlimited Category = "unlimited"
	CategoryBullet    Category = "bullet"
	CategoryBlitz     Category = "blitz"
	CategoryRapid     Category = "rapid"
	CategoryClassical Category = "classical"
	CategoryCustom    Category = "custom"
)

// TimeControl holds per-side initial and increment seconds. Custom controls may be asymmetric.
type TimeControl struct {
	Name           string   `json:"name" yaml:"name"`
	Category       Category `json:"category" yaml:"category"`
	WhiteInitial   int64    `json:"white_initial" yaml:"white_initial"`
	BlackInitial   int64    `json:"black_initial" yaml:"black_initial"`
	WhiteIncrement int64    `json:"white_increment" yaml:"white_increment"`
	BlackIncrement int64    `json:"black_increment" yaml:"black_increment"`
}

// Unlimited reports whether clocks are disabled.
func (tc TimeControl) Unlimited() bool { return tc.Category == CategoryUnlimited }

func (tc TimeControl) Initial(side Side) int64 {
	if side == Black {
		return tc.BlackInitial
	}
	return tc.WhiteInitial
}

func (tc TimeControl) Increment(side Side) int64 {
	if side == Black {
		return tc.BlackIncrement
	}
	return tc.WhiteIncrement
}

// Swapped exchanges the per-side values, used when colors are swapped for a rematch.
func (tc TimeControl) Swapped() TimeControl {
	out := tc
	out.WhiteInitial, out.BlackInitial = tc.BlackInitial, tc.WhiteInitial
	out.WhiteIncrement, out.BlackIncrement = tc.BlackIncrement, tc.WhiteIncrement
	return out
}

// Validate rejects negative values and zero initial time on timed controls.
func (tc TimeControl) Validate() error {
	if tc.Unlimited() {
		return nil
	}
	if tc.WhiteInitial <= 0 || tc.BlackInitial <= 0 {
		return fmt.Errorf("time control %q: initial seconds must be > 0", tc.Name)
	}
	if tc.WhiteIncrement < 0 || tc.BlackIncrement < 0 {
		return fmt.Errorf("time control %q: increment must be >= 0", tc.Name)
	}
	return nil
}

package domain

import (
	"encoding/json"
	"fmt"
)

// Phase is the engine-wide trading mode. It controls both admission (can a
// place/cancel be accepted) and matching behaviour (see §4.3's table).
type Phase int

const (
	Prepare Phase = iota
	Call
	Continuous
	Suspense
)

func (p Phase) String() string {
	switch p {
	case Prepare:
		return "Prepare"
	case Call:
		return "Call"
	case Continuous:
		return "Continuous"
	case Suspense:
		return "Suspense"
	default:
		return "Unknown"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "Prepare":
		*p = Prepare
	case "Call":
		*p = Call
	case "Continuous":
		*p = Continuous
	case "Suspense":
		*p = Suspense
	default:
		return fmt.Errorf("domain: unknown phase %q", s)
	}
	return nil
}

// CanPlace reports whether an order may be admitted while in phase p.
func (p Phase) CanPlace() bool {
	return p != Suspense
}

// CanCancel reports whether a cancel may be admitted while in phase p.
func (p Phase) CanCancel() bool {
	return p != Call && p != Suspense
}

// MatchesContinuously reports whether the security worker should attempt a
// cross after every inserted order.
func (p Phase) MatchesContinuously() bool {
	return p == Continuous
}

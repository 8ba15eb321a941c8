package arbiter

import "time"

type State string

const (
	StateSystemManaged State = "system_managed"
	StateUnlocking     State = "unlocking"
	StateUnlocked      State = "unlocked"
	StateReleasing     State = "releasing"
)

// Session is a snapshot of who currently owns fan writes.
type Session struct {
	ID              string    `json:"id,omitempty"`
	State           State     `json:"state"`
	Unlocked        bool      `json:"unlocked"`
	UnlockedAt      time.Time `json:"unlocked_at,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
	Recovered       bool      `json:"recovered"`
	LastWarning     string    `json:"last_warning,omitempty"`
}

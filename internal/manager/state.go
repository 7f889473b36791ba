package manager

import (
	"fmt"
	"slices"

	"github.com/matheus3301/wadesk/internal/store"
)

// validTransitions defines the allowed session status transitions.
// disconnected is the initial state; error is terminal until an explicit
// retry; stop() reaches disconnected from anywhere.
var validTransitions = map[store.Status][]store.Status{
	store.StatusDisconnected: {store.StatusConnecting},
	store.StatusConnecting:   {store.StatusConnected, store.StatusDisconnected, store.StatusError},
	store.StatusConnected:    {store.StatusDisconnected, store.StatusError},
	store.StatusError:        {store.StatusConnecting, store.StatusDisconnected},
}

// CheckTransition returns an error when from→to is not a legal transition.
func CheckTransition(from, to store.Status) error {
	if from == to {
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// StatusChange is the bus payload for session status change events.
type StatusChange struct {
	From store.Status `json:"from"`
	To   store.Status `json:"to"`
}

package mailstore

import "github.com/virtmail/mailstore/store"

// Lifecycle transitions. A draft moves to sending when submitted; sending
// resolves to sent or send_failed; a failed send may be retried. A sent
// message falls back to send_failed when a bounce arrives. Received
// messages are terminal; their location is managed through folders.
var lifecycleTransitions = map[store.MessageState][]store.MessageState{
	store.StateDraft:      {store.StateSending},
	store.StateSending:    {store.StateSent, store.StateSendFailed},
	store.StateSendFailed: {store.StateSending},
	store.StateSent:       {store.StateSendFailed},
	store.StateReceived:   nil,
}

// CanTransition reports whether a message may move from one lifecycle state
// to another.
func CanTransition(from, to store.MessageState) bool {
	for _, next := range lifecycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(id string, from, to store.MessageState) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{MessageID: id, From: from, To: to}
}

// stateAllowsTrash reports whether a message in the given state may be
// moved to trash. A message mid-send stays put until the send resolves.
func stateAllowsTrash(s store.MessageState) bool {
	return s != store.StateSending
}

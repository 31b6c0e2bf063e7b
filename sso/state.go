package sso

import "fmt"

// State is the lifecycle stage of an AuthContext.
type State int

const (
	// Created: credentials acquired, nothing sent yet.
	Created State = iota
	// RequestSent: the first-leg token has been produced.
	RequestSent
	// ResponseReceived: a challenge was answered and the provider expects another leg.
	ResponseReceived
	// Complete: the handshake ended, successfully or not.
	Complete
	// Freed: provider resources released. Terminal.
	Freed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case RequestSent:
		return "RequestSent"
	case ResponseReceived:
		return "ResponseReceived"
	case Complete:
		return "Complete"
	case Freed:
		return "Freed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

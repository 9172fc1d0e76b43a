package client

import "github.com/wezm/node-simperium/internal/events"

// ReconnectEvent carries the 1-based attempt number for each reconnect try
// (§4.5 "reconnect(attempt) event").
type ReconnectEvent struct {
	Attempt int
}

// AuthorizeEvent fires when the Authorizer collaborator succeeds (§6 Auth
// interface: "emits authorize(user) event on success").
type AuthorizeEvent struct {
	User string
}

// Events groups the Client's public event buses (Design Note 9.1: a typed
// bus per event kind rather than a global observer).
type Events struct {
	Reconnect events.Bus[ReconnectEvent]
	Authorize events.Bus[AuthorizeEvent]
	Error     events.Bus[error]
}

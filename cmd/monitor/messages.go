package main

import "github.com/apexalgo/ticktrader/internal/types"

// NotificationMsg carries one session event from the hub stream.
type NotificationMsg struct {
	Notification types.Notification
}

// ConnectedMsg signals that the hub subscription is live.
type ConnectedMsg struct{}

// StreamErrorMsg indicates the hub stream failed.
type StreamErrorMsg struct {
	Err error
}

package types

import "time"

// NotificationType classifies session lifecycle events published to the sink.
type NotificationType string

const (
	NotificationCreated       NotificationType = "created"
	NotificationUpdated       NotificationType = "updated"
	NotificationStoppedProfit NotificationType = "stopped_profit"
	NotificationStoppedLoss   NotificationType = "stopped_loss"
	NotificationStoppedShield NotificationType = "stopped_shield"
)

// Notification is a best-effort event emitted by the orchestrator. Delivery
// must never apply back-pressure to the trading loop.
type Notification struct {
	Type      NotificationType `json:"type"`
	AccountID string           `json:"account_id"`
	Strategy  string           `json:"strategy"`
	Message   string           `json:"message,omitempty"`
	Balance   float64          `json:"balance,omitempty"`
	Profit    float64          `json:"profit,omitempty"`
	Stake     float64          `json:"stake,omitempty"`
	Won       *bool            `json:"won,omitempty"`
	Time      time.Time        `json:"time"`
}

package domain

import "time"

type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryRejected DeliveryStatus = "rejected" // remote errcode != 0
	DeliveryFailed   DeliveryStatus = "failed"   // retry budget exhausted
)

// Delivery is the outcome of one Send call.
type Delivery struct {
	ID        string
	Kind      MessageKind
	ToUser    string
	ToParty   string
	ToTag     string
	Attempts  int
	Status    DeliveryStatus
	Detail    string
	MsgID     string // remote msgid, set when sent
	Latency   time.Duration
	CreatedAt time.Time
}

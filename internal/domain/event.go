package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys for the transfer lifecycle events published to the broker.
// Downstream notification consumers bind on these names, so they are part of
// the service's public contract.
const (
	EventTransferRequested = "transfer-requested"
	EventTransferAccepted  = "transfer-accepted"
)

// TransferRequestedEvent is emitted after a transfer request has been
// persisted. Field names are fixed for backward compatibility with the
// existing notification consumers.
type TransferRequestedEvent struct {
	TransferID uuid.UUID `json:"transferId"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Amount     int64     `json:"amount"`
	Note       *string   `json:"note"`
}

// TransferAcceptedEvent is emitted after a transfer has settled.
type TransferAcceptedEvent struct {
	TransferID uuid.UUID `json:"transferId"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
}

// OutboxEvent is a pending notification persisted in the same database
// transaction as the state change it describes. A background dispatcher
// drains unpublished rows and publishes them to the broker, giving
// at-least-once delivery without coupling the broker to the store
// transaction.
type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	TransferID  uuid.UUID       `json:"transfer_id"`
	RoutingKey  string          `json:"routing_key"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

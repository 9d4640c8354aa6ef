package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusUnknown   Status = "unknown"
)

// Message is a single chat message keyed by the WhatsApp (or locally generated) message id.
type Message struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	MessageID string         `gorm:"column:msg_id;type:varchar(128);uniqueIndex;not null" json:"msg_id"`
	WaID      string         `gorm:"type:varchar(32);index;not null" json:"wa_id"`
	Name      string         `gorm:"type:varchar(255)" json:"name,omitempty"`
	Number    string         `gorm:"type:varchar(32)" json:"number,omitempty"`
	Direction Direction      `gorm:"type:varchar(16);not null" json:"direction"`
	Text      string         `gorm:"type:text;not null" json:"text"`
	Timestamp time.Time      `gorm:"index;not null" json:"timestamp"`
	Status    Status         `gorm:"type:varchar(16);not null" json:"status"`
	Raw       datatypes.JSON `gorm:"type:jsonb" json:"raw,omitempty" swaggertype:"object"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Conversation groups every message exchanged with one wa_id. It is computed on read.
type Conversation struct {
	WaID        string  `json:"_id"`
	LastMessage Message `json:"lastMessage"`
	Count       int     `json:"count"`
}

const EventMessageUpdated = "message_updated"

// Event is what subscribers receive on the broadcast channel.
type Event struct {
	Name string  `json:"event"`
	Data Message `json:"data"`
}

func NewMessageUpdated(msg Message) Event {
	return Event{Name: EventMessageUpdated, Data: msg}
}

// ParseStatus reports whether s is one of the known delivery states.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusSent, StatusDelivered, StatusRead, StatusUnknown:
		return st, true
	}
	return StatusUnknown, false
}

// IsManualStatus reports whether st may be set through the manual status endpoint.
func IsManualStatus(st Status) bool {
	return st == StatusSent || st == StatusDelivered || st == StatusRead
}

func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case DirectionInbound, DirectionOutbound:
		return d, true
	}
	return DirectionInbound, false
}

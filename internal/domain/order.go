package domain

import (
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID      uuid.UUID
	OwnerID string
	Total   Money
	Address string
	Email   string
	Phone   string
	Items   []OrderItem

	// PaymentRef is the gateway's payment id, empty until the first payment attempt.
	PaymentRef    string
	PaymentStatus PaymentStatus
	Status        OrderStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ItemID   uuid.UUID
	Name     string
	Quantity int
	Price    Money

	CreatedAt time.Time
}

package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikolayk812/foodorder/internal/domain"
)

type OrderRepository interface {
	InsertOrder(ctx context.Context, order domain.Order) (uuid.UUID, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)
	// GetOrderForOwner reports domain.ErrOrderNotFound both for a missing order
	// and for an order owned by someone else.
	GetOrderForOwner(ctx context.Context, orderID uuid.UUID, ownerID string) (domain.Order, error)

	SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)

	// SetPaymentAttempt records the gateway payment reference together with the
	// payment status resulting from the attempt.
	SetPaymentAttempt(ctx context.Context, orderID uuid.UUID, paymentRef string, status domain.PaymentStatus) error

	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status domain.PaymentStatus) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error

	// UpdatePaymentLocked runs fn with the current order while holding that
	// order's row lock in a single transaction. A non-nil returned status is
	// persisted before the transaction commits, even when fn also returns an
	// error; fn's error is surfaced to the caller afterwards. Concurrent calls
	// for the same order are serialized, other orders are unaffected.
	UpdatePaymentLocked(ctx context.Context, orderID uuid.UUID, fn func(order domain.Order) (*domain.PaymentStatus, error)) error

	DeleteOrder(ctx context.Context, orderID uuid.UUID, ownerID string) error
}

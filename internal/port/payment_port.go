package port

import (
	"context"

	"github.com/nikolayk812/foodorder/internal/domain"
)

// PaymentGateway abstracts the external payment processor.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, request domain.PaymentRequest) (domain.Payment, error)

	// ExecutePayment captures a previously approved payment. A nil error does
	// not imply approval: callers must check the returned payment state.
	ExecutePayment(ctx context.Context, paymentID, payerID string) (domain.Payment, error)
}

package service

import (
	"github.com/google/uuid"
	"github.com/nikolayk812/foodorder/internal/domain"
)

type CreateOrderRequest struct {
	Total   domain.Money
	Address string
	Email   string
	Phone   string
	Items   []domain.OrderItem
	Status  domain.OrderStatus
}

type OrderResponse struct {
	Order       domain.Order
	ApprovalURL string
}

type RetryPaymentResponse struct {
	ApprovalURL string
}

type OrderPaymentStatus struct {
	OrderID       uuid.UUID
	PaymentStatus domain.PaymentStatus
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nikolayk812/foodorder/internal/domain"
	"github.com/nikolayk812/foodorder/internal/port"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// OrderService owns the payment lifecycle of food orders: it is the only
// component that moves an order between payment statuses, always re-reading
// current state from the repository before mutating it.
type OrderService struct {
	repo    port.OrderRepository
	gateway port.PaymentGateway
	users   port.UserProvider
	logger  zerolog.Logger
}

func NewOrderService(repo port.OrderRepository, gateway port.PaymentGateway, users port.UserProvider, logger zerolog.Logger) (*OrderService, error) {
	if repo == nil {
		return nil, errors.New("repo is nil")
	}
	if gateway == nil {
		return nil, errors.New("gateway is nil")
	}
	if users == nil {
		return nil, errors.New("users is nil")
	}

	return &OrderService{
		repo:    repo,
		gateway: gateway,
		users:   users,
		logger:  logger,
	}, nil
}

// CreateOrderWithPayment persists a new PENDING order, then creates a payment
// attempt at the gateway. The order row survives a gateway failure as a FAILED
// record so the attempt stays auditable.
func (s *OrderService) CreateOrderWithPayment(ctx context.Context, request CreateOrderRequest, cancelURL, successURL string) (OrderResponse, error) {
	var resp OrderResponse

	ownerID, err := s.users.CurrentUserID(ctx)
	if err != nil {
		return resp, fmt.Errorf("users.CurrentUserID: %w", err)
	}

	order := domain.Order{
		OwnerID:       ownerID,
		Total:         request.Total,
		Address:       request.Address,
		Email:         request.Email,
		Phone:         request.Phone,
		Items:         request.Items,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        request.Status,
	}

	orderID, err := s.repo.InsertOrder(ctx, order)
	if err != nil {
		return resp, fmt.Errorf("repo.InsertOrder: %w", err)
	}

	description := fmt.Sprintf("Food order: %s", orderID)

	approvalURL, err := s.createPayment(ctx, orderID, order.Total, description, cancelURL, successURL)
	if err != nil {
		return resp, fmt.Errorf("s.createPayment: %w", err)
	}

	saved, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return resp, fmt.Errorf("repo.GetOrder: %w", err)
	}

	s.logger.Info().Str("order_id", orderID.String()).Str("owner_id", ownerID).Msg("order created")

	return OrderResponse{Order: saved, ApprovalURL: approvalURL}, nil
}

// RetryOrderPayment creates a fresh payment attempt for an unpaid order and
// resets its payment status to PENDING.
func (s *OrderService) RetryOrderPayment(ctx context.Context, orderID uuid.UUID, cancelURL, successURL string) (RetryPaymentResponse, error) {
	var resp RetryPaymentResponse

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return resp, fmt.Errorf("repo.GetOrder: %w", err)
	}

	if order.PaymentStatus == domain.PaymentStatusCompleted {
		return resp, domain.ErrOrderAlreadyPaid
	}

	description := fmt.Sprintf("Retry for food order: %s", orderID)

	approvalURL, err := s.createPayment(ctx, orderID, order.Total, description, cancelURL, successURL)
	if err != nil {
		return resp, fmt.Errorf("s.createPayment: %w", err)
	}

	s.logger.Info().Str("order_id", orderID.String()).Msg("payment retry created")

	return RetryPaymentResponse{ApprovalURL: approvalURL}, nil
}

// ExecuteAndFinalizeOrder executes a payment the payer approved out-of-band.
// It is idempotent: a COMPLETED order is never executed again. The whole
// read-decide-write runs under the order's row lock, so concurrent callbacks
// for the same order serialize and exactly one of them reaches the gateway.
func (s *OrderService) ExecuteAndFinalizeOrder(ctx context.Context, orderID uuid.UUID, paymentID, payerID string) error {
	err := s.repo.UpdatePaymentLocked(ctx, orderID, func(order domain.Order) (*domain.PaymentStatus, error) {
		switch order.PaymentStatus {
		case domain.PaymentStatusCompleted:
			s.logger.Info().Str("order_id", orderID.String()).Msg("order already completed, skipping execution")
			return nil, nil
		case domain.PaymentStatusCancelled:
			return nil, domain.ErrOrderCancelled
		}

		payment, err := s.gateway.ExecutePayment(ctx, paymentID, payerID)
		if err != nil {
			return lo.ToPtr(domain.PaymentStatusFailed), &domain.GatewayError{Op: "execute", Err: err}
		}

		if !payment.Approved() {
			// left for operator reconciliation, no local transition
			return nil, fmt.Errorf("payment state[%s]: %w", payment.State, domain.ErrPaymentNotApproved)
		}

		return lo.ToPtr(domain.PaymentStatusCompleted), nil
	})
	if err != nil {
		return fmt.Errorf("repo.UpdatePaymentLocked: %w", err)
	}

	s.logger.Info().Str("order_id", orderID.String()).Str("payment_id", paymentID).Msg("order finalized")

	return nil
}

// CancelOrderPayment cancels a PENDING payment. Any other status is a
// harmless no-op: the caller may race with settlement.
func (s *OrderService) CancelOrderPayment(ctx context.Context, orderID uuid.UUID) error {
	err := s.repo.UpdatePaymentLocked(ctx, orderID, func(order domain.Order) (*domain.PaymentStatus, error) {
		if order.PaymentStatus != domain.PaymentStatusPending {
			return nil, nil
		}

		return lo.ToPtr(domain.PaymentStatusCancelled), nil
	})
	if err != nil {
		return fmt.Errorf("repo.UpdatePaymentLocked: %w", err)
	}

	return nil
}

func (s *OrderService) GetOrderPaymentStatusForCurrentUser(ctx context.Context, orderID uuid.UUID) (OrderPaymentStatus, error) {
	var resp OrderPaymentStatus

	userID, err := s.users.CurrentUserID(ctx)
	if err != nil {
		return resp, fmt.Errorf("users.CurrentUserID: %w", err)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return resp, fmt.Errorf("repo.GetOrder: %w", err)
	}

	if order.OwnerID != userID {
		return resp, domain.ErrNotOrderOwner
	}

	return OrderPaymentStatus{OrderID: order.ID, PaymentStatus: order.PaymentStatus}, nil
}

func (s *OrderService) GetUserOrders(ctx context.Context) ([]domain.Order, error) {
	userID, err := s.users.CurrentUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("users.CurrentUserID: %w", err)
	}

	orders, err := s.repo.SearchOrders(ctx, domain.OrderFilter{OwnerIDs: []string{userID}})
	if err != nil {
		return nil, fmt.Errorf("repo.SearchOrders: %w", err)
	}

	return orders, nil
}

func (s *OrderService) GetOrdersOfAllUsers(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo.ListOrders: %w", err)
	}

	return orders, nil
}

func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	if err := s.repo.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("repo.UpdateOrderStatus: %w", err)
	}

	return nil
}

// RemoveOrder deletes the caller's own order. A missing order and an order
// owned by someone else are both reported as not found.
func (s *OrderService) RemoveOrder(ctx context.Context, orderID uuid.UUID) error {
	userID, err := s.users.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("users.CurrentUserID: %w", err)
	}

	if err := s.repo.DeleteOrder(ctx, orderID, userID); err != nil {
		return fmt.Errorf("repo.DeleteOrder: %w", err)
	}

	return nil
}

// createPayment is the shared gateway-create step of order creation and
// retry. On gateway failure the order is marked FAILED but kept. On success
// the payment reference is stored and the status reset to PENDING.
func (s *OrderService) createPayment(ctx context.Context, orderID uuid.UUID, amount domain.Money, description, cancelURL, successURL string) (string, error) {
	request := domain.PaymentRequest{
		Amount:      amount,
		Description: description,
		CancelURL:   appendOrderID(cancelURL, orderID),
		ReturnURL:   appendOrderID(successURL, orderID),
	}

	payment, err := s.gateway.CreatePayment(ctx, request)
	if err != nil {
		if updErr := s.repo.UpdatePaymentStatus(ctx, orderID, domain.PaymentStatusFailed); updErr != nil {
			s.logger.Error().Err(updErr).Str("order_id", orderID.String()).Msg("marking order payment as failed")
		}
		return "", &domain.GatewayError{Op: "create", Err: err}
	}

	approvalURL, err := payment.ApprovalURL()
	if err != nil {
		return "", fmt.Errorf("payment.ApprovalURL: %w", err)
	}

	if err := s.repo.SetPaymentAttempt(ctx, orderID, payment.ID, domain.PaymentStatusPending); err != nil {
		return "", fmt.Errorf("repo.SetPaymentAttempt: %w", err)
	}

	return approvalURL, nil
}

func appendOrderID(target string, orderID uuid.UUID) string {
	separator := "?"
	if strings.Contains(target, "?") {
		separator = "&"
	}

	return target + separator + "orderId=" + orderID.String()
}

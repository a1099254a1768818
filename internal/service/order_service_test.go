package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nikolayk812/foodorder/internal/domain"
	"github.com/nikolayk812/foodorder/internal/port"
	"github.com/nikolayk812/foodorder/internal/service"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

// memoryRepo is an in-memory port.OrderRepository for service tests. Its
// mutex spans the whole UpdatePaymentLocked callback, mirroring the row-lock
// serialization of the Postgres implementation.
type memoryRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]domain.Order
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[uuid.UUID]domain.Order)}
}

func (r *memoryRepo) InsertOrder(_ context.Context, order domain.Order) (uuid.UUID, error) {
	if len(order.Items) == 0 {
		return uuid.Nil, errors.New("no items in order")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order.ID = uuid.New()
	r.orders[order.ID] = order

	return order.ID, nil
}

func (r *memoryRepo) GetOrder(_ context.Context, orderID uuid.UUID) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return order, nil
}

func (r *memoryRepo) GetOrderForOwner(_ context.Context, orderID uuid.UUID, ownerID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok || order.OwnerID != ownerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return order, nil
}

func (r *memoryRepo) SearchOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter.Validate: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var orders []domain.Order
	for _, order := range r.orders {
		for _, ownerID := range filter.OwnerIDs {
			if order.OwnerID == ownerID {
				orders = append(orders, order)
			}
		}
	}

	return orders, nil
}

func (r *memoryRepo) ListOrders(_ context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var orders []domain.Order
	for _, order := range r.orders {
		orders = append(orders, order)
	}

	return orders, nil
}

func (r *memoryRepo) SetPaymentAttempt(_ context.Context, orderID uuid.UUID, paymentRef string, status domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.PaymentRef = paymentRef
	order.PaymentStatus = status
	r.orders[orderID] = order

	return nil
}

func (r *memoryRepo) UpdatePaymentStatus(_ context.Context, orderID uuid.UUID, status domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.PaymentStatus = status
	r.orders[orderID] = order

	return nil
}

func (r *memoryRepo) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.Status = status
	r.orders[orderID] = order

	return nil
}

func (r *memoryRepo) UpdatePaymentLocked(_ context.Context, orderID uuid.UUID, fn func(order domain.Order) (*domain.PaymentStatus, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	status, fnErr := fn(order)

	if status != nil {
		order.PaymentStatus = *status
		r.orders[orderID] = order
	}

	return fnErr
}

func (r *memoryRepo) DeleteOrder(_ context.Context, orderID uuid.UUID, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok || order.OwnerID != ownerID {
		return domain.ErrOrderNotFound
	}

	delete(r.orders, orderID)

	return nil
}

var _ port.OrderRepository = (*memoryRepo)(nil)

// fakeGateway records calls and delegates to configurable funcs.
type fakeGateway struct {
	mu           sync.Mutex
	createCalls  int
	executeCalls int

	createFunc  func(request domain.PaymentRequest) (domain.Payment, error)
	executeFunc func(paymentID, payerID string) (domain.Payment, error)
}

func (g *fakeGateway) CreatePayment(_ context.Context, request domain.PaymentRequest) (domain.Payment, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()

	return g.createFunc(request)
}

func (g *fakeGateway) ExecutePayment(_ context.Context, paymentID, payerID string) (domain.Payment, error) {
	g.mu.Lock()
	g.executeCalls++
	g.mu.Unlock()

	return g.executeFunc(paymentID, payerID)
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.createCalls, g.executeCalls
}

var _ port.PaymentGateway = (*fakeGateway)(nil)

// staticUser always resolves to the same caller.
type staticUser string

func (u staticUser) CurrentUserID(context.Context) (string, error) {
	if u == "" {
		return "", domain.ErrNoUserInContext
	}

	return string(u), nil
}

var _ port.UserProvider = staticUser("")

func approvedGateway() *fakeGateway {
	return &fakeGateway{
		createFunc: func(domain.PaymentRequest) (domain.Payment, error) {
			return domain.Payment{
				ID:    "PAY-1",
				State: "created",
				Links: []domain.PaymentLink{{Rel: "approval_url", Href: "https://pay/1"}},
			}, nil
		},
		executeFunc: func(paymentID, payerID string) (domain.Payment, error) {
			return domain.Payment{ID: paymentID, State: "approved"}, nil
		},
	}
}

func newService(t *testing.T, repo port.OrderRepository, gateway port.PaymentGateway, user string) *service.OrderService {
	t.Helper()

	svc, err := service.NewOrderService(repo, gateway, staticUser(user), zerolog.Nop())
	require.NoError(t, err)

	return svc
}

func thb(amount string) domain.Money {
	return domain.Money{
		Amount:   decimal.RequireFromString(amount),
		Currency: currency.MustParseISO("THB"),
	}
}

func createRequest(amount string) service.CreateOrderRequest {
	return service.CreateOrderRequest{
		Total:   thb(amount),
		Address: "12 Sukhumvit Rd, Bangkok",
		Email:   "somchai@example.com",
		Phone:   "+66-81-234-5678",
		Items: []domain.OrderItem{
			{ItemID: uuid.New(), Name: "Pad Thai", Quantity: 2, Price: thb("125.00")},
		},
		Status: domain.OrderStatusPreparing,
	}
}

func TestCreateOrderWithPayment(t *testing.T) {
	ctx := t.Context()

	t.Run("gateway create succeeds: pending order with approval url", func(t *testing.T) {
		repo := newMemoryRepo()
		gateway := approvedGateway()
		svc := newService(t, repo, gateway, "user-a")

		resp, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.NoError(t, err)

		assert.Equal(t, "https://pay/1", resp.ApprovalURL)
		assert.Equal(t, domain.PaymentStatusPending, resp.Order.PaymentStatus)
		assert.Equal(t, "PAY-1", resp.Order.PaymentRef)
		assert.Equal(t, "user-a", resp.Order.OwnerID)
		assert.True(t, resp.Order.Total.Amount.Equal(decimal.RequireFromString("250.00")))
	})

	t.Run("redirect targets embed the order id", func(t *testing.T) {
		repo := newMemoryRepo()

		var captured domain.PaymentRequest
		gateway := approvedGateway()
		inner := gateway.createFunc
		gateway.createFunc = func(request domain.PaymentRequest) (domain.Payment, error) {
			captured = request
			return inner(request)
		}

		svc := newService(t, repo, gateway, "user-a")

		resp, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.NoError(t, err)

		orderID := resp.Order.ID.String()
		assert.Equal(t, "https://shop/cancel?orderId="+orderID, captured.CancelURL)
		assert.Equal(t, "https://shop/success?orderId="+orderID, captured.ReturnURL)
		assert.Equal(t, "Food order: "+orderID, captured.Description)
		assert.Equal(t, "250.00", captured.Amount.Amount.StringFixed(2))
	})

	t.Run("gateway create fails: order kept as failed", func(t *testing.T) {
		repo := newMemoryRepo()
		gateway := approvedGateway()
		gateway.createFunc = func(domain.PaymentRequest) (domain.Payment, error) {
			return domain.Payment{}, errors.New("connection refused")
		}

		svc := newService(t, repo, gateway, "user-a")

		_, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")

		var gatewayErr *domain.GatewayError
		require.ErrorAs(t, err, &gatewayErr)

		orders, err := repo.ListOrders(ctx)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, domain.PaymentStatusFailed, orders[0].PaymentStatus)
		assert.Empty(t, orders[0].PaymentRef)
	})

	t.Run("no approval link in gateway response: critical error", func(t *testing.T) {
		repo := newMemoryRepo()
		gateway := approvedGateway()
		gateway.createFunc = func(domain.PaymentRequest) (domain.Payment, error) {
			return domain.Payment{ID: "PAY-1", State: "created"}, nil
		}

		svc := newService(t, repo, gateway, "user-a")

		_, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.ErrorIs(t, err, domain.ErrNoApprovalLink)
	})

	t.Run("no user in context: error before any persistence", func(t *testing.T) {
		repo := newMemoryRepo()
		svc := newService(t, repo, approvedGateway(), "")

		_, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.ErrorIs(t, err, domain.ErrNoUserInContext)

		orders, err := repo.ListOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, orders)
	})
}

func TestRetryOrderPayment(t *testing.T) {
	ctx := t.Context()

	t.Run("failed order: reset to pending with fresh approval url", func(t *testing.T) {
		repo := newMemoryRepo()
		gateway := approvedGateway()
		svc := newService(t, repo, gateway, "user-a")

		created, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.NoError(t, err)

		require.NoError(t, repo.UpdatePaymentStatus(ctx, created.Order.ID, domain.PaymentStatusFailed))

		gateway.createFunc = func(domain.PaymentRequest) (domain.Payment, error) {
			return domain.Payment{
				ID:    "PAY-2",
				State: "created",
				Links: []domain.PaymentLink{{Rel: "approval_url", Href: "https://pay/2"}},
			}, nil
		}

		resp, err := svc.RetryOrderPayment(ctx, created.Order.ID, "https://shop/cancel", "https://shop/success")
		require.NoError(t, err)
		assert.Equal(t, "https://pay/2", resp.ApprovalURL)

		order, err := repo.GetOrder(ctx, created.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
		assert.Equal(t, "PAY-2", order.PaymentRef)
	})

	t.Run("completed order: conflict, status unchanged", func(t *testing.T) {
		repo := newMemoryRepo()
		gateway := approvedGateway()
		svc := newService(t, repo, gateway, "user-a")

		created, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.NoError(t, err)
		require.NoError(t, repo.UpdatePaymentStatus(ctx, created.Order.ID, domain.PaymentStatusCompleted))

		createCallsBefore, _ := gateway.calls()

		_, err = svc.RetryOrderPayment(ctx, created.Order.ID, "https://shop/cancel", "https://shop/success")
		require.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)

		createCallsAfter, _ := gateway.calls()
		assert.Equal(t, createCallsBefore, createCallsAfter)

		order, err := repo.GetOrder(ctx, created.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus)
	})

	t.Run("missing order: not found", func(t *testing.T) {
		svc := newService(t, newMemoryRepo(), approvedGateway(), "user-a")

		_, err := svc.RetryOrderPayment(ctx, uuid.New(), "https://shop/cancel", "https://shop/success")
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestExecuteAndFinalizeOrder(t *testing.T) {
	ctx := t.Context()

	setup := func(t *testing.T) (*memoryRepo, *fakeGateway, *service.OrderService, uuid.UUID) {
		repo := newMemoryRepo()
		gateway := approvedGateway()
		svc := newService(t, repo, gateway, "user-a")

		created, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
		require.NoError(t, err)

		return repo, gateway, svc, created.Order.ID
	}

	t.Run("approved execution completes the order, repeat is a no-op", func(t *testing.T) {
		repo, gateway, svc, orderID := setup(t)

		require.NoError(t, svc.ExecuteAndFinalizeOrder(ctx, orderID, "PAY-1", "P1"))

		order, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus)

		// idempotency: second callback must not reach the gateway
		require.NoError(t, svc.ExecuteAndFinalizeOrder(ctx, orderID, "PAY-1", "P1"))

		order, err = repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus)

		_, executeCalls := gateway.calls()
		assert.Equal(t, 1, executeCalls)
	})

	t.Run("gateway execute fails: order marked failed, error surfaced", func(t *testing.T) {
		repo, gateway, svc, orderID := setup(t)

		gateway.executeFunc = func(paymentID, payerID string) (domain.Payment, error) {
			return domain.Payment{}, errors.New("timeout")
		}

		err := svc.ExecuteAndFinalizeOrder(ctx, orderID, "PAY-1", "P1")

		var gatewayErr *domain.GatewayError
		require.ErrorAs(t, err, &gatewayErr)

		order, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	})

	t.Run("execution not approved: error, status left for reconciliation", func(t *testing.T) {
		repo, gateway, svc, orderID := setup(t)

		gateway.executeFunc = func(paymentID, payerID string) (domain.Payment, error) {
			return domain.Payment{ID: paymentID, State: "failed"}, nil
		}

		err := svc.ExecuteAndFinalizeOrder(ctx, orderID, "PAY-1", "P1")
		require.ErrorIs(t, err, domain.ErrPaymentNotApproved)

		order, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	})

	t.Run("cancelled order: conflict, gateway not called", func(t *testing.T) {
		repo, gateway, svc, orderID := setup(t)

		require.NoError(t, svc.CancelOrderPayment(ctx, orderID))

		err := svc.ExecuteAndFinalizeOrder(ctx, orderID, "PAY-1", "P1")
		require.ErrorIs(t, err, domain.ErrOrderCancelled)

		_, executeCalls := gateway.calls()
		assert.Equal(t, 0, executeCalls)

		order, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCancelled, order.PaymentStatus)
	})

	t.Run("missing order: not found", func(t *testing.T) {
		_, _, svc, _ := setup(t)

		err := svc.ExecuteAndFinalizeOrder(ctx, uuid.New(), "PAY-1", "P1")
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("concurrent callbacks execute the payment exactly once", func(t *testing.T) {
		repo, gateway, svc, orderID := setup(t)

		const callbacks = 10

		var wg sync.WaitGroup
		for i := 0; i < callbacks; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = svc.ExecuteAndFinalizeOrder(ctx, orderID, "PAY-1", "P1")
			}()
		}
		wg.Wait()

		_, executeCalls := gateway.calls()
		assert.Equal(t, 1, executeCalls)

		order, err := repo.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus)
	})
}

func TestCancelOrderPayment(t *testing.T) {
	ctx := t.Context()

	tests := []struct {
		name       string
		current    domain.PaymentStatus
		wantStatus domain.PaymentStatus
	}{
		{
			name:       "pending order: cancelled",
			current:    domain.PaymentStatusPending,
			wantStatus: domain.PaymentStatusCancelled,
		},
		{
			name:       "failed order: no-op",
			current:    domain.PaymentStatusFailed,
			wantStatus: domain.PaymentStatusFailed,
		},
		{
			name:       "completed order: no-op",
			current:    domain.PaymentStatusCompleted,
			wantStatus: domain.PaymentStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepo()
			svc := newService(t, repo, approvedGateway(), "user-a")

			created, err := svc.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
			require.NoError(t, err)
			require.NoError(t, repo.UpdatePaymentStatus(ctx, created.Order.ID, tt.current))

			require.NoError(t, svc.CancelOrderPayment(ctx, created.Order.ID))

			order, err := repo.GetOrder(ctx, created.Order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, order.PaymentStatus)
		})
	}

	t.Run("missing order: not found", func(t *testing.T) {
		svc := newService(t, newMemoryRepo(), approvedGateway(), "user-a")

		err := svc.CancelOrderPayment(ctx, uuid.New())
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestGetOrderPaymentStatusForCurrentUser(t *testing.T) {
	ctx := t.Context()

	repo := newMemoryRepo()
	gateway := approvedGateway()

	owner := newService(t, repo, gateway, "user-a")
	created, err := owner.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
	require.NoError(t, err)

	t.Run("owner: exact stored status", func(t *testing.T) {
		status, err := owner.GetOrderPaymentStatusForCurrentUser(ctx, created.Order.ID)
		require.NoError(t, err)

		assert.Equal(t, created.Order.ID, status.OrderID)
		assert.Equal(t, domain.PaymentStatusPending, status.PaymentStatus)
	})

	t.Run("another user: unauthorized", func(t *testing.T) {
		other := newService(t, repo, gateway, "user-b")

		_, err := other.GetOrderPaymentStatusForCurrentUser(ctx, created.Order.ID)
		require.ErrorIs(t, err, domain.ErrNotOrderOwner)
	})

	t.Run("missing order: not found", func(t *testing.T) {
		_, err := owner.GetOrderPaymentStatusForCurrentUser(ctx, uuid.New())
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestRemoveOrder(t *testing.T) {
	ctx := t.Context()

	repo := newMemoryRepo()
	gateway := approvedGateway()

	owner := newService(t, repo, gateway, "user-a")
	created, err := owner.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
	require.NoError(t, err)

	t.Run("another user: reported as not found, order kept", func(t *testing.T) {
		other := newService(t, repo, gateway, "user-b")

		err := other.RemoveOrder(ctx, created.Order.ID)
		require.ErrorIs(t, err, domain.ErrOrderNotFound)

		_, err = repo.GetOrder(ctx, created.Order.ID)
		require.NoError(t, err)
	})

	t.Run("owner: deleted", func(t *testing.T) {
		require.NoError(t, owner.RemoveOrder(ctx, created.Order.ID))

		_, err := repo.GetOrder(ctx, created.Order.ID)
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestGetUserOrders(t *testing.T) {
	ctx := t.Context()

	repo := newMemoryRepo()
	gateway := approvedGateway()

	userA := newService(t, repo, gateway, "user-a")
	userB := newService(t, repo, gateway, "user-b")

	_, err := userA.CreateOrderWithPayment(ctx, createRequest("250.00"), "https://shop/cancel", "https://shop/success")
	require.NoError(t, err)
	_, err = userA.CreateOrderWithPayment(ctx, createRequest("99.50"), "https://shop/cancel", "https://shop/success")
	require.NoError(t, err)
	_, err = userB.CreateOrderWithPayment(ctx, createRequest("10.00"), "https://shop/cancel", "https://shop/success")
	require.NoError(t, err)

	ordersA, err := userA.GetUserOrders(ctx)
	require.NoError(t, err)
	require.Len(t, ordersA, 2)
	for _, order := range ordersA {
		assert.Equal(t, "user-a", order.OwnerID)
	}

	all, err := userA.GetOrdersOfAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

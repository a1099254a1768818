package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nikolayk812/foodorder/internal/domain"
	"github.com/nikolayk812/foodorder/internal/identity"
	"github.com/nikolayk812/foodorder/internal/service"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Server struct {
	Router *mux.Router

	orders *service.OrderService
	logger zerolog.Logger
}

func NewServer(orders *service.OrderService, logger zerolog.Logger) (*Server, error) {
	if orders == nil {
		return nil, errors.New("orders is nil")
	}

	s := &Server{
		Router: mux.NewRouter(),
		orders: orders,
		logger: logger,
	}

	s.Router.Use(s.identityMiddleware)

	s.Router.HandleFunc("/api/orders", s.handleCreateOrder).Methods(http.MethodPost)
	s.Router.HandleFunc("/api/orders", s.handleGetUserOrders).Methods(http.MethodGet)
	s.Router.HandleFunc("/api/orders/all", s.requireAdmin(s.handleGetAllOrders)).Methods(http.MethodGet)
	s.Router.HandleFunc("/api/orders/{id}", s.handleRemoveOrder).Methods(http.MethodDelete)
	s.Router.HandleFunc("/api/orders/{id}/retry", s.handleRetryPayment).Methods(http.MethodPost)
	s.Router.HandleFunc("/api/orders/{id}/payment-status", s.handlePaymentStatus).Methods(http.MethodGet)
	s.Router.HandleFunc("/api/orders/{id}/finalize", s.handleFinalize).Methods(http.MethodPost)
	s.Router.HandleFunc("/api/orders/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.Router.HandleFunc("/api/orders/{id}/status", s.requireAdmin(s.handleUpdateStatus)).Methods(http.MethodPatch)

	return s, nil
}

// identityMiddleware propagates the authenticated caller into the request
// context. Authentication is out of scope, the gateway in front of this
// service fills the header.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			r = r.WithContext(identity.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin") != "true" {
			http.Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

type orderItemJSON struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type orderJSON struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	UserAddress   string          `json:"userAddress"`
	Email         string          `json:"email"`
	PhoneNumber   string          `json:"phoneNumber"`
	OrderedItems  []orderItemJSON `json:"orderedItems"`
	PaymentRef    string          `json:"paymentRef,omitempty"`
	PaymentStatus string          `json:"paymentStatus"`
	OrderStatus   string          `json:"orderStatus"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type createOrderJSON struct {
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	UserAddress  string          `json:"userAddress"`
	Email        string          `json:"email"`
	PhoneNumber  string          `json:"phoneNumber"`
	OrderedItems []orderItemJSON `json:"orderedItems"`
	OrderStatus  string          `json:"orderStatus"`
	CancelURL    string          `json:"cancelUrl"`
	SuccessURL   string          `json:"successUrl"`
}

type createOrderResponseJSON struct {
	orderJSON
	ApprovalURL string `json:"approvalUrl"`
}

type retryPaymentResponseJSON struct {
	ApprovalURL string `json:"approvalUrl"`
}

type paymentStatusJSON struct {
	ID            string `json:"id"`
	PaymentStatus string `json:"paymentStatus"`
}

type finalizeJSON struct {
	PaymentID string `json:"paymentId"`
	PayerID   string `json:"payerId"`
}

type updateStatusJSON struct {
	Status string `json:"status"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	request, err := toCreateRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.orders.CreateOrderWithPayment(r.Context(), request, body.CancelURL, body.SuccessURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createOrderResponseJSON{
		orderJSON:   toOrderJSON(resp.Order),
		ApprovalURL: resp.ApprovalURL,
	})
}

func (s *Server) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.orderID(w, r)
	if !ok {
		return
	}

	var body createOrderJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	resp, err := s.orders.RetryOrderPayment(r.Context(), orderID, body.CancelURL, body.SuccessURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, retryPaymentResponseJSON{ApprovalURL: resp.ApprovalURL})
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.orderID(w, r)
	if !ok {
		return
	}

	status, err := s.orders.GetOrderPaymentStatusForCurrentUser(r.Context(), orderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, paymentStatusJSON{
		ID:            status.OrderID.String(),
		PaymentStatus: string(status.PaymentStatus),
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.orderID(w, r)
	if !ok {
		return
	}

	var body finalizeJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if body.PaymentID == "" || body.PayerID == "" {
		http.Error(w, "paymentId and payerId are required", http.StatusBadRequest)
		return
	}

	if err := s.orders.ExecuteAndFinalizeOrder(r.Context(), orderID, body.PaymentID, body.PayerID); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.orderID(w, r)
	if !ok {
		return
	}

	if err := s.orders.CancelOrderPayment(r.Context(), orderID); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.GetUserOrders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, lo.Map(orders, func(o domain.Order, _ int) orderJSON { return toOrderJSON(o) }))
}

func (s *Server) handleGetAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.GetOrdersOfAllUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, lo.Map(orders, func(o domain.Order, _ int) orderJSON { return toOrderJSON(o) }))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.orderID(w, r)
	if !ok {
		return
	}

	var body updateStatusJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	status, err := domain.ToOrderStatus(body.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.orders.UpdateOrderStatus(r.Context(), orderID, status); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.orderID(w, r)
	if !ok {
		return
	}

	if err := s.orders.RemoveOrder(r.Context(), orderID); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return uuid.Nil, false
	}

	return orderID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gatewayErr *domain.GatewayError

	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrNoUserInContext):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotOrderOwner):
		statusCode = http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrOrderAlreadyPaid), errors.Is(err, domain.ErrOrderCancelled):
		statusCode = http.StatusConflict
	case errors.As(err, &gatewayErr),
		errors.Is(err, domain.ErrNoApprovalLink),
		errors.Is(err, domain.ErrPaymentNotApproved):
		statusCode = http.StatusBadGateway
	}

	s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", statusCode).Msg("request failed")

	http.Error(w, err.Error(), statusCode)
}

func toCreateRequest(body createOrderJSON) (service.CreateOrderRequest, error) {
	var request service.CreateOrderRequest

	parsedCurrency, err := currency.ParseISO(body.Currency)
	if err != nil {
		return request, fmt.Errorf("currency[%s] is not valid: %w", body.Currency, err)
	}

	status := domain.OrderStatusPreparing
	if body.OrderStatus != "" {
		status, err = domain.ToOrderStatus(body.OrderStatus)
		if err != nil {
			return request, fmt.Errorf("domain.ToOrderStatus[%s]: %w", body.OrderStatus, err)
		}
	}

	items := make([]domain.OrderItem, 0, len(body.OrderedItems))
	for _, item := range body.OrderedItems {
		itemID, err := uuid.Parse(item.ItemID)
		if err != nil {
			return request, fmt.Errorf("itemId[%s] is not valid: %w", item.ItemID, err)
		}

		items = append(items, domain.OrderItem{
			ItemID:   itemID,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    domain.Money{Amount: item.Price, Currency: parsedCurrency},
		})
	}

	return service.CreateOrderRequest{
		Total:   domain.Money{Amount: body.Amount, Currency: parsedCurrency},
		Address: body.UserAddress,
		Email:   body.Email,
		Phone:   body.PhoneNumber,
		Items:   items,
		Status:  status,
	}, nil
}

func toOrderJSON(order domain.Order) orderJSON {
	return orderJSON{
		ID:            order.ID.String(),
		UserID:        order.OwnerID,
		Amount:        order.Total.Amount,
		Currency:      order.Total.Currency.String(),
		UserAddress:   order.Address,
		Email:         order.Email,
		PhoneNumber:   order.Phone,
		OrderedItems:  lo.Map(order.Items, func(item domain.OrderItem, _ int) orderItemJSON { return toOrderItemJSON(item) }),
		PaymentRef:    order.PaymentRef,
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.Status),
		CreatedAt:     order.CreatedAt,
	}
}

func toOrderItemJSON(item domain.OrderItem) orderItemJSON {
	return orderItemJSON{
		ItemID:   item.ItemID.String(),
		Name:     item.Name,
		Quantity: item.Quantity,
		Price:    item.Price.Amount,
	}
}

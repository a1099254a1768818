package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikolayk812/foodorder/internal/domain"
	"github.com/nikolayk812/foodorder/internal/port"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const selectOrderSQL = `SELECT id, owner_id, total_amount::text, total_currency, address, email, phone,
       payment_ref, payment_status, order_status, created_at, updated_at
FROM orders`

const selectOrderItemsSQL = `SELECT item_id, name, quantity, price_amount::text, price_currency, created_at
FROM order_items
WHERE order_id = $1::uuid
ORDER BY created_at, item_id`

const searchOrdersSQL = `SELECT o.id, o.owner_id, o.total_amount::text, o.total_currency, o.address, o.email, o.phone,
       o.payment_ref, o.payment_status, o.order_status, o.created_at, o.updated_at,
       i.item_id, i.name, i.quantity, i.price_amount::text, i.price_currency, i.created_at
FROM orders o
JOIN order_items i ON i.order_id = o.id
WHERE ($1::text[] IS NULL OR o.id::text = ANY($1))
  AND ($2::text[] IS NULL OR o.owner_id = ANY($2))
  AND ($3::text[] IS NULL OR o.payment_status = ANY($3))
  AND ($4::text[] IS NULL OR o.order_status = ANY($4))
  AND ($5::timestamptz IS NULL OR o.created_at > $5)
  AND ($6::timestamptz IS NULL OR o.created_at < $6)
  AND ($7::timestamptz IS NULL OR o.updated_at > $7)
  AND ($8::timestamptz IS NULL OR o.updated_at < $8)
ORDER BY o.created_at, o.id`

type orderRepository struct {
	pool *pgxpool.Pool
}

func NewOrder(pool *pgxpool.Pool) (port.OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}

	return &orderRepository{pool: pool}, nil
}

func (r *orderRepository) InsertOrder(ctx context.Context, order domain.Order) (uuid.UUID, error) {
	if len(order.Items) == 0 {
		return uuid.Nil, errors.New("no items in order")
	}

	if order.PaymentStatus == "" {
		order.PaymentStatus = domain.PaymentStatusPending
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPreparing
	}

	orderID, err := withTx(ctx, r.pool, func(tx pgx.Tx) (uuid.UUID, error) {
		var orderID uuid.UUID

		err := tx.QueryRow(ctx, `INSERT INTO orders (owner_id, total_amount, total_currency, address, email, phone, payment_ref, payment_status, order_status)
VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
			order.OwnerID,
			order.Total.Amount.String(),
			order.Total.Currency.String(),
			order.Address,
			order.Email,
			order.Phone,
			order.PaymentRef,
			string(order.PaymentStatus),
			string(order.Status),
		).Scan(&orderID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("tx.QueryRow: %w", err)
		}

		// TODO: batch with pgx.Batch
		for _, item := range order.Items {
			_, err := tx.Exec(ctx, `INSERT INTO order_items (order_id, item_id, name, quantity, price_amount, price_currency)
VALUES ($1::uuid, $2::uuid, $3, $4, $5::numeric, $6)`,
				orderID, item.ItemID, item.Name, item.Quantity, item.Price.Amount.String(), item.Price.Currency.String())
			if err != nil {
				return uuid.Nil, fmt.Errorf("tx.Exec: %w", err)
			}
		}

		return orderID, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("withTx: %w", err)
	}

	return orderID, nil
}

func (r *orderRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	var o domain.Order

	if orderID == uuid.Nil {
		return o, fmt.Errorf("orderID is empty")
	}

	order, err := withTx(ctx, r.pool, func(tx pgx.Tx) (domain.Order, error) {
		return r.getOrder(ctx, tx, selectOrderSQL+` WHERE id = $1::uuid`, orderID)
	})
	if err != nil {
		return o, fmt.Errorf("withTx: %w", err)
	}

	return order, nil
}

func (r *orderRepository) GetOrderForOwner(ctx context.Context, orderID uuid.UUID, ownerID string) (domain.Order, error) {
	var o domain.Order

	if orderID == uuid.Nil {
		return o, fmt.Errorf("orderID is empty")
	}
	if ownerID == "" {
		return o, fmt.Errorf("ownerID is empty")
	}

	// A wrong owner is indistinguishable from a missing order on purpose.
	order, err := withTx(ctx, r.pool, func(tx pgx.Tx) (domain.Order, error) {
		return r.getOrder(ctx, tx, selectOrderSQL+` WHERE id = $1::uuid AND owner_id = $2`, orderID, ownerID)
	})
	if err != nil {
		return o, fmt.Errorf("withTx: %w", err)
	}

	return order, nil
}

func (r *orderRepository) SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter.Validate: %w", err)
	}

	orders, err := r.searchOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("r.searchOrders: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) ListOrders(ctx context.Context) ([]domain.Order, error) {
	// An empty filter fails validation, so the administrative listing
	// goes through the unvalidated search directly.
	orders, err := r.searchOrders(ctx, domain.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("r.searchOrders: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) SetPaymentAttempt(ctx context.Context, orderID uuid.UUID, paymentRef string, status domain.PaymentStatus) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("orderID is empty")
	}
	if paymentRef == "" {
		return fmt.Errorf("paymentRef is empty")
	}
	if status == "" {
		return fmt.Errorf("status is empty")
	}

	cmdTag, err := r.pool.Exec(ctx, `UPDATE orders SET payment_ref = $2, payment_status = $3, updated_at = now() WHERE id = $1::uuid`,
		orderID, paymentRef, string(status))
	if err != nil {
		return fmt.Errorf("pool.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("pool.Exec: %w", domain.ErrOrderNotFound)
	}

	return nil
}

func (r *orderRepository) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status domain.PaymentStatus) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("orderID is empty")
	}
	if status == "" {
		return fmt.Errorf("status is empty")
	}

	cmdTag, err := r.pool.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1::uuid`,
		orderID, string(status))
	if err != nil {
		return fmt.Errorf("pool.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("pool.Exec: %w", domain.ErrOrderNotFound)
	}

	return nil
}

func (r *orderRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("orderID is empty")
	}
	if status == "" {
		return fmt.Errorf("status is empty")
	}

	cmdTag, err := r.pool.Exec(ctx, `UPDATE orders SET order_status = $2, updated_at = now() WHERE id = $1::uuid`,
		orderID, string(status))
	if err != nil {
		return fmt.Errorf("pool.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("pool.Exec: %w", domain.ErrOrderNotFound)
	}

	return nil
}

func (r *orderRepository) UpdatePaymentLocked(ctx context.Context, orderID uuid.UUID, fn func(order domain.Order) (*domain.PaymentStatus, error)) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("orderID is empty")
	}
	if fn == nil {
		return fmt.Errorf("fn is nil")
	}

	// fn's own error must not roll back a status fn asked to persist:
	// a FAILED marker written on a gateway error is a committed poison pill.
	var fnErr error

	_, err := withTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		order, err := r.getOrder(ctx, tx, selectOrderSQL+` WHERE id = $1::uuid FOR UPDATE`, orderID)
		if err != nil {
			return struct{}{}, fmt.Errorf("r.getOrder: %w", err)
		}

		var status *domain.PaymentStatus
		status, fnErr = fn(order)

		if status != nil {
			_, err := tx.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1::uuid`,
				orderID, string(*status))
			if err != nil {
				return struct{}{}, fmt.Errorf("tx.Exec: %w", err)
			}
		}

		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("withTx: %w", err)
	}

	return fnErr
}

func (r *orderRepository) DeleteOrder(ctx context.Context, orderID uuid.UUID, ownerID string) error {
	if orderID == uuid.Nil {
		return fmt.Errorf("orderID is empty")
	}
	if ownerID == "" {
		return fmt.Errorf("ownerID is empty")
	}

	// Items go via ON DELETE CASCADE.
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1::uuid AND owner_id = $2`, orderID, ownerID)
	if err != nil {
		return fmt.Errorf("pool.Exec: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("pool.Exec: %w", domain.ErrOrderNotFound)
	}

	return nil
}

func (r *orderRepository) getOrder(ctx context.Context, q dbtx, query string, args ...any) (domain.Order, error) {
	var (
		o     decodedOrder
		order domain.Order
		err   error
	)

	row := q.QueryRow(ctx, query, args...)
	if err := row.Scan(&o.id, &o.ownerID, &o.totalAmount, &o.totalCurrency, &o.address, &o.email, &o.phone,
		&o.paymentRef, &o.paymentStatus, &o.orderStatus, &o.createdAt, &o.updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order, fmt.Errorf("row.Scan: %w", domain.ErrOrderNotFound)
		}
		return order, fmt.Errorf("row.Scan: %w", err)
	}

	order, err = o.toDomain()
	if err != nil {
		return order, fmt.Errorf("o.toDomain: %w", err)
	}

	order.Items, err = r.getOrderItems(ctx, q, order.ID)
	if err != nil {
		return order, fmt.Errorf("r.getOrderItems: %w", err)
	}

	return order, nil
}

func (r *orderRepository) getOrderItems(ctx context.Context, q dbtx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := q.Query(ctx, selectOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("q.Query: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem

	for rows.Next() {
		var (
			item                       domain.OrderItem
			priceAmount, priceCurrency string
		)

		if err := rows.Scan(&item.ItemID, &item.Name, &item.Quantity, &priceAmount, &priceCurrency, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}

		item.Price, err = parseMoney(priceAmount, priceCurrency)
		if err != nil {
			return nil, fmt.Errorf("parseMoney: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return items, nil
}

func (r *orderRepository) searchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ids := lo.Map(filter.IDs, func(id uuid.UUID, _ int) string { return id.String() })
	paymentStatuses := lo.Map(filter.PaymentStatuses, func(s domain.PaymentStatus, _ int) string { return string(s) })
	statuses := lo.Map(filter.Statuses, func(s domain.OrderStatus, _ int) string { return string(s) })

	var createdAfter, createdBefore, updatedAfter, updatedBefore *time.Time

	if filter.CreatedAt != nil {
		createdAfter = filter.CreatedAt.After
		createdBefore = filter.CreatedAt.Before
	}

	if filter.UpdatedAt != nil {
		updatedAfter = filter.UpdatedAt.After
		updatedBefore = filter.UpdatedAt.Before
	}

	rows, err := r.pool.Query(ctx, searchOrdersSQL,
		nilSliceIfEmpty(ids),
		nilSliceIfEmpty(filter.OwnerIDs),
		nilSliceIfEmpty(paymentStatuses),
		nilSliceIfEmpty(statuses),
		createdAfter, createdBefore, updatedAfter, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("pool.Query: %w", err)
	}
	defer rows.Close()

	// Group joined rows by order ID, preserving first-seen order.
	orderMap := make(map[uuid.UUID]domain.Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var (
			o                          decodedOrder
			item                       domain.OrderItem
			priceAmount, priceCurrency string
		)

		if err := rows.Scan(&o.id, &o.ownerID, &o.totalAmount, &o.totalCurrency, &o.address, &o.email, &o.phone,
			&o.paymentRef, &o.paymentStatus, &o.orderStatus, &o.createdAt, &o.updatedAt,
			&item.ItemID, &item.Name, &item.Quantity, &priceAmount, &priceCurrency, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}

		if _, exists := orderMap[o.id]; !exists {
			order, err := o.toDomain()
			if err != nil {
				return nil, fmt.Errorf("o.toDomain: %w", err)
			}
			orderMap[o.id] = order
			orderIDs = append(orderIDs, o.id)
		}

		item.Price, err = parseMoney(priceAmount, priceCurrency)
		if err != nil {
			return nil, fmt.Errorf("parseMoney: %w", err)
		}

		order := orderMap[o.id]
		order.Items = append(order.Items, item)
		orderMap[o.id] = order
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return lo.Map(orderIDs, func(id uuid.UUID, _ int) domain.Order { return orderMap[id] }), nil
}

// decodedOrder holds raw column values before parsing into domain types.
type decodedOrder struct {
	id                           uuid.UUID
	ownerID                      string
	totalAmount, totalCurrency   string
	address, email, phone        string
	paymentRef                   string
	paymentStatus, orderStatus   string
	createdAt, updatedAt         time.Time
}

func (o decodedOrder) toDomain() (domain.Order, error) {
	var order domain.Order

	total, err := parseMoney(o.totalAmount, o.totalCurrency)
	if err != nil {
		return order, fmt.Errorf("parseMoney: %w", err)
	}

	paymentStatus, err := domain.ToPaymentStatus(o.paymentStatus)
	if err != nil {
		return order, fmt.Errorf("domain.ToPaymentStatus[%s]: %w", o.paymentStatus, err)
	}

	status, err := domain.ToOrderStatus(o.orderStatus)
	if err != nil {
		return order, fmt.Errorf("domain.ToOrderStatus[%s]: %w", o.orderStatus, err)
	}

	return domain.Order{
		ID:            o.id,
		OwnerID:       o.ownerID,
		Total:         total,
		Address:       o.address,
		Email:         o.email,
		Phone:         o.phone,
		PaymentRef:    o.paymentRef,
		PaymentStatus: paymentStatus,
		Status:        status,
		CreatedAt:     o.createdAt,
		UpdatedAt:     o.updatedAt,
	}, nil
}

func parseMoney(amount, currencyCode string) (domain.Money, error) {
	parsedCurrency, err := currency.ParseISO(currencyCode)
	if err != nil {
		return domain.Money{}, fmt.Errorf("currency[%s] is not valid: %w", currencyCode, err)
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("amount[%s] is not valid: %w", amount, err)
	}

	return domain.Money{Amount: parsedAmount, Currency: parsedCurrency}, nil
}

func nilSliceIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the required tables if they are absent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS orders (
  id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  owner_id text NOT NULL,
  total_amount numeric NOT NULL,
  total_currency text NOT NULL,
  address text NOT NULL DEFAULT '',
  email text NOT NULL DEFAULT '',
  phone text NOT NULL DEFAULT '',
  payment_ref text NOT NULL DEFAULT '',
  payment_status text NOT NULL DEFAULT 'PENDING',
  order_status text NOT NULL DEFAULT 'Preparing',
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_items (
  order_id uuid NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  item_id uuid NOT NULL,
  name text NOT NULL DEFAULT '',
  quantity int NOT NULL,
  price_amount numeric NOT NULL,
  price_currency text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (order_id, item_id)
);`)
	if err != nil {
		return fmt.Errorf("pool.Exec: %w", err)
	}

	return nil
}

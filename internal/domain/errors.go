package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderAlreadyPaid = errors.New("order has already been paid for")
	ErrOrderCancelled   = errors.New("order payment has been cancelled")
	ErrNotOrderOwner    = errors.New("order belongs to another user")
	ErrNoUserInContext  = errors.New("no user in context")

	// ErrNoApprovalLink means a successful gateway response is missing the
	// approval redirect, which violates the gateway contract.
	ErrNoApprovalLink = errors.New("approval link missing in gateway response")

	ErrPaymentNotApproved = errors.New("payment was not approved")
)

// GatewayError wraps any failure reported by the external payment processor.
type GatewayError struct {
	Op  string // "create" or "execute"
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

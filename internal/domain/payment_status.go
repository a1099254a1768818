package domain

import "errors"

type PaymentStatus string

// remember to add new statuses to the validPaymentStatuses map
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

var validPaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusPending:   {},
	PaymentStatusCompleted: {},
	PaymentStatusFailed:    {},
	PaymentStatusCancelled: {},
}

func ToPaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if _, ok := validPaymentStatuses[status]; ok {
		return status, nil
	}

	return "", errors.New("invalid payment status")
}

func PaymentStatuses() []PaymentStatus {
	result := make([]PaymentStatus, 0, len(validPaymentStatuses))
	for status := range validPaymentStatuses {
		result = append(result, status)
	}
	return result
}

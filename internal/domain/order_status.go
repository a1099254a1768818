package domain

import "errors"

// OrderStatus tracks fulfillment of the food order, independently of payment.
type OrderStatus string

// remember to add new statuses to the validOrderStatuses map
const (
	OrderStatusPreparing      OrderStatus = "Preparing"
	OrderStatusOutForDelivery OrderStatus = "Out for delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
)

var validOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPreparing:      {},
	OrderStatusOutForDelivery: {},
	OrderStatusDelivered:      {},
}

func ToOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if _, ok := validOrderStatuses[status]; ok {
		return status, nil
	}

	return "", errors.New("invalid order status")
}

func OrderStatuses() []OrderStatus {
	result := make([]OrderStatus, 0, len(validOrderStatuses))
	for status := range validOrderStatuses {
		result = append(result, status)
	}
	return result
}

package domain

import "strings"

// approvalRel is the link relation the gateway uses for the payer redirect.
const approvalRel = "approval_url"

// PaymentStateApproved is the only execute outcome that completes an order.
const PaymentStateApproved = "approved"

// PaymentRequest describes a payment attempt to be created at the gateway.
type PaymentRequest struct {
	Amount      Money
	Description string
	CancelURL   string
	ReturnURL   string
}

// Payment is the gateway's view of a payment attempt.
type Payment struct {
	ID    string
	State string
	Links []PaymentLink
}

type PaymentLink struct {
	Rel  string
	Href string
}

func (p Payment) Approved() bool {
	return strings.EqualFold(p.State, PaymentStateApproved)
}

// ApprovalURL selects the redirect the payer must visit to authorise the
// payment. A create response without one violates the gateway contract.
func (p Payment) ApprovalURL() (string, error) {
	for _, link := range p.Links {
		if strings.EqualFold(link.Rel, approvalRel) {
			return link.Href, nil
		}
	}

	return "", ErrNoApprovalLink
}

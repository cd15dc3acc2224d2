package domain

import (
	"context"
	"errors"
	"fmt"
)

// TransferRequest asks the bank gateway to move funds to a seller account.
type TransferRequest struct {
	// IdempotencyKey is stable per payout so a resubmitted transfer cannot
	// duplicate the wire.
	IdempotencyKey    string `json:"idempotency_key"`
	Amount            int64  `json:"amount"`
	BankName          string `json:"bank_name"`
	BankCode          string `json:"bank_code"`
	AccountNumber     string `json:"account_number"`
	AccountHolderName string `json:"account_holder_name"`
	Description       string `json:"description,omitempty"`
}

type TransferResult struct {
	// Reference is the gateway's identifier for the transfer.
	Reference string `json:"reference"`
}

// Gateway submits bank transfers. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

var (
	// ErrTransferRejected means the gateway refused the transfer outright;
	// retrying with the same request will not help.
	ErrTransferRejected = errors.New("transfer_rejected")
	// ErrTransferTimeout means the outcome is unknown; the idempotency key
	// makes a retry safe.
	ErrTransferTimeout = errors.New("transfer_timeout")
	ErrInvalidConfig   = errors.New("invalid_gateway_config")
)

// GatewayError wraps a rejection with the gateway's own reason code.
type GatewayError struct {
	Reason  string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway rejected transfer: %s", e.Reason)
	}
	return fmt.Sprintf("gateway rejected transfer: %s: %s", e.Reason, e.Message)
}

func (e *GatewayError) Unwrap() error { return ErrTransferRejected }

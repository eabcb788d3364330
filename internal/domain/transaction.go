/**
 * @description
 * This file defines the ledger record model and the transfer DTOs. A
 * `Transaction` is the single bookkeeping entry written per successful
 * payment-rail transfer; it is created once and never mutated.
 *
 * @notes
 * - Amounts travel as decimal strings in a fixed currency (USD) because the
 *   payment rail's wire format is {currency, value-string}; parsing and
 *   validation happen at the orchestrator boundary with shopspring/decimal.
 * - `TransferID` is the trailing path segment of the rail's transfer location
 *   and is the primary deduplication key: at most one Transaction exists per
 *   transfer reference.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Default bookkeeping tags applied when the caller leaves them unset.
const (
	DefaultChannel  = "online"
	DefaultCategory = "Transfer"
)

// Transaction is the ledger record for one peer-to-peer transfer.
// It maps to the `transactions` table.
type Transaction struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Amount         string    `json:"amount"` // decimal string, USD
	SenderID       uuid.UUID `json:"sender_id"`
	SenderBankID   uuid.UUID `json:"sender_bank_id"`
	ReceiverID     uuid.UUID `json:"receiver_id"`
	ReceiverBankID uuid.UUID `json:"receiver_bank_id"`
	Email          string    `json:"email"`
	TransferID     *string   `json:"transfer_id,omitempty"`
	Channel        string    `json:"channel"`
	Category       string    `json:"category"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransferRequest is the DTO for initiating a peer-to-peer transfer. It mirrors
// the dashboard's payment transfer form: the sender picks one of their own
// linked banks, the receiver is addressed by their shareable account id.
type TransferRequest struct {
	SenderBankID uuid.UUID `json:"sender_bank_id"`
	ShareableID  string    `json:"shareable_id"`
	Amount       string    `json:"amount"` // decimal string, USD
	Name         string    `json:"name"`   // transfer note
	Email        string    `json:"email"`  // recipient email
}

// CreateTransactionParams carries the fields of a ledger record to be written.
// TransferID may be nil when the rail's location could not be parsed; the
// writer then relies on the recency-window check alone.
type CreateTransactionParams struct {
	Name           string
	Amount         string
	SenderID       uuid.UUID
	SenderBankID   uuid.UUID
	ReceiverID     uuid.UUID
	ReceiverBankID uuid.UUID
	Email          string
	TransferID     *string
	Channel        string
	Category       string
}

// TransferCompletedPayload is the message published when a transfer has been
// submitted to the rail and its ledger record written.
type TransferCompletedPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TransferID    string    `json:"transfer_id"`
	Amount        string    `json:"amount"`
	SenderID      uuid.UUID `json:"sender_id"`
	ReceiverID    uuid.UUID `json:"receiver_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// LedgerRecordFailedPayload is the message published when the rail transfer
// succeeded but the ledger write did not, so operators can reconcile the books.
type LedgerRecordFailedPayload struct {
	TransferID     string    `json:"transfer_id"`
	Amount         string    `json:"amount"`
	SenderBankID   uuid.UUID `json:"sender_bank_id"`
	ReceiverBankID uuid.UUID `json:"receiver_bank_id"`
	Error          string    `json:"error"`
	Timestamp      time.Time `json:"timestamp"`
}

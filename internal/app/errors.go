/**
 * @description
 * This file defines the sentinel errors returned by the transfer service's
 * business logic. Handlers map these onto HTTP status codes, so every
 * classifiable failure mode gets its own value here.
 */

package app

import "errors"

var (
	// ErrUnlinkedAccount indicates a bank record has no usable aggregator
	// access token, so no funding source can be provisioned for it.
	ErrUnlinkedAccount = errors.New("bank account has no aggregator access token")

	// ErrIdentityNotProvisioned indicates the bank's owner has no payment-rail
	// customer identity and one could not be created.
	ErrIdentityNotProvisioned = errors.New("user has no payment-rail customer identity")

	// ErrMalformedEndpoint indicates a resolved funding source URL does not
	// have the expected rail endpoint shape.
	ErrMalformedEndpoint = errors.New("funding source URL is malformed")

	// ErrSelfTransferConflict indicates a resolved receiver funding source is
	// the platform's own verified sender endpoint, which would move money in
	// a circle.
	ErrSelfTransferConflict = errors.New("receiver funding source conflicts with sender endpoint")

	// ErrSenderBankNotFound indicates the sender bank id on a transfer request
	// does not match any stored bank record.
	ErrSenderBankNotFound = errors.New("sender bank not found")

	// ErrReceiverBankNotFound indicates the shareable id on a transfer request
	// does not resolve to any stored bank record.
	ErrReceiverBankNotFound = errors.New("receiver bank not found")

	// ErrInvalidTransferRequest indicates a transfer request failed field
	// validation before any external call was made.
	ErrInvalidTransferRequest = errors.New("invalid transfer request")

	// ErrTransferRejected indicates the payment rail rejected the transfer
	// after retries were exhausted.
	ErrTransferRejected = errors.New("transfer rejected by payment rail")

	// ErrRateLimited indicates a repair request was throttled.
	ErrRateLimited = errors.New("rate limit exceeded")
)

/**
 * @description
 * This file defines the domain models for linked bank accounts and their owners.
 * A `Bank` is one external bank account a user connected through the bank-link
 * aggregator; the payment-rail funding source URL is cached on the record once
 * it has been provisioned.
 *
 * @notes
 * - `AccessToken` holds the aggregator credential for the link. Records created
 *   without completing real aggregator provisioning carry the sentinel value
 *   `test-token` and can never resolve a funding source.
 * - `FundingSourceURL` is nullable: it is written exactly once per successful
 *   resolution and may be repaired out of band by operators.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SentinelAccessToken marks bank records provisioned without a real
// aggregator link (e.g. operator-created sender records).
const SentinelAccessToken = "test-token"

// Bank represents one linked external bank account. It maps to the `banks` table.
type Bank struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	ItemID           string    `json:"item_id"`    // aggregator item id for the link
	AccountID        string    `json:"account_id"` // aggregator account id, unique per account
	AccessToken      string    `json:"-"`
	FundingSourceURL *string   `json:"funding_source_url,omitempty"`
	ShareableID      string    `json:"shareable_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasAccessToken reports whether the record carries a usable aggregator credential.
func (b *Bank) HasAccessToken() bool {
	return b.AccessToken != "" && b.AccessToken != SentinelAccessToken
}

// User is the slice of the user record this service needs: identity plus the
// payment-rail customer binding, which is provisioned lazily.
type User struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	DwollaCustomerID  *string   `json:"dwolla_customer_id,omitempty"`
	DwollaCustomerURL *string   `json:"dwolla_customer_url,omitempty"`
}

// Funding source health states reported by the reconciliation endpoint.
const (
	FundingSourceHealthy         = "ok"
	FundingSourceMissing         = "missing"
	FundingSourceSelfReferential = "self_referential"
	FundingSourceMalformed       = "malformed"
)

// BankHealth is the operator-facing view of one bank record's funding-source state.
type BankHealth struct {
	BankID           uuid.UUID `json:"bankId"`
	AccountID        string    `json:"accountId"`
	UserID           uuid.UUID `json:"userId"`
	HasFundingSource bool      `json:"hasFundingSource"`
	FundingSource    *string   `json:"fundingSource"`
	HasAccessToken   bool      `json:"hasAccessToken"`
	Status           string    `json:"status"`
}

/// LinkBankRequest is the DTO for connecting a new bank account: the public
// token produced by the aggregator's client-side link flow.
type LinkBankRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	PublicToken string    `json:"public_token"`
}

// LinkBankResult reports the records created while connecting a bank account.
type LinkBankResult struct {
	Bank             *Bank  `json:"bank"`
	FundingSourceURL string `json:"funding_source_url"`
}

// PersonalFundingSourceRequest is the operator DTO for provisioning a
// send-capable funding source from raw bank account details.
type PersonalFundingSourceRequest struct {
	CustomerID      string     `json:"customerId"`
	RoutingNumber   string     `json:"routingNumber"`
	AccountNumber   string     `json:"accountNumber"`
	BankAccountType string     `json:"bankAccountType"` // checking or savings
	BankName        string     `json:"bankName"`
	UserID          *uuid.UUID `json:"userId,omitempty"`
	UpdateExisting  bool       `json:"updateExisting,omitempty"`
}

// PersonalFundingSourceResult is the response for the personal funding source endpoint.
type PersonalFundingSourceResult struct {
	FundingSourceURL string  `json:"fundingSourceUrl"`
	Bank             *Bank   `json:"bankRecord,omitempty"`
	ShareableID      *string `json:"shareableId,omitempty"`
}

// FixReceiverRequest is the operator DTO for repairing a receiver's funding source.
type FixReceiverRequest struct {
	ShareableID         string `json:"shareableId"`
	ForceUpdate         bool   `json:"forceUpdate,omitempty"`
	NewFundingSourceURL string `json:"newFundingSourceUrl,omitempty"`
}

// Repair actions reported by the reconciliation endpoint.
const (
	RepairActionNone      = "none"
	RepairActionCreated   = "created"
	RepairActionRecreated = "recreated"
	RepairActionValidated = "validated"
	RepairActionUpdated   = "updated"
)

// FixReceiverResult reports what the reconciliation endpoint did to one record.
type FixReceiverResult struct {
	Action string     `json:"action"`
	Bank   BankHealth `json:"bank"`
}

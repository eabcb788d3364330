package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/horizon-banking/transfer-service/internal/domain"
)

// fixedRateLimiter returns a preset count on every consume call.
type fixedRateLimiter struct {
	count      int
	retryAfter int
	calls      int
}

func (l *fixedRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, l.retryAfter, nil
}

func TestFixReceiver_Actions(t *testing.T) {
	tests := []struct {
		name             string
		fundingSourceURL func(env *testEnv) string
		wantAction       string
	}{
		{
			name:             "healthy endpoint is validated",
			fundingSourceURL: func(env *testEnv) string { return env.rail.fundingSourceURL("fs-good") },
			wantAction:       domain.RepairActionValidated,
		},
		{
			name:             "missing endpoint is created",
			fundingSourceURL: func(env *testEnv) string { return "" },
			wantAction:       domain.RepairActionCreated,
		},
		{
			name:             "self-referential endpoint is recreated",
			fundingSourceURL: func(env *testEnv) string { return env.sourceURL },
			wantAction:       domain.RepairActionRecreated,
		},
		{
			name:             "malformed endpoint is recreated",
			fundingSourceURL: func(env *testEnv) string { return "https://elsewhere.example.com/funding-sources/fs-1" },
			wantAction:       domain.RepairActionRecreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := env.addUser()
			customerID := "cust-existing"
			user.DwollaCustomerID = &customerID
			bank := env.addBank(user.ID, "access-token-1", tt.fundingSourceURL(env))

			result, err := env.service.FixReceiver(context.Background(), domain.FixReceiverRequest{
				ShareableID: bank.ShareableID,
			})
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if result.Action != tt.wantAction {
				t.Fatalf("expected action %q, got %q", tt.wantAction, result.Action)
			}
			if result.Bank.Status != domain.FundingSourceHealthy {
				t.Fatalf("expected healthy status after repair, got %q", result.Bank.Status)
			}
		})
	}
}

func TestFixReceiver_ForceUpdate(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	bank := env.addBank(user.ID, "access-token-1", env.rail.fundingSourceURL("fs-old"))
	newURL := env.rail.fundingSourceURL("fs-operator")

	result, err := env.service.FixReceiver(context.Background(), domain.FixReceiverRequest{
		ShareableID:         bank.ShareableID,
		ForceUpdate:         true,
		NewFundingSourceURL: newURL,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.Action != domain.RepairActionUpdated {
		t.Fatalf("expected action updated, got %q", result.Action)
	}
	if bank.FundingSourceURL == nil || *bank.FundingSourceURL != newURL {
		t.Fatalf("expected %q persisted, got %v", newURL, bank.FundingSourceURL)
	}
	if env.rail.fundingSourceCalls != 0 {
		t.Fatalf("expected no rail provisioning, got %d", env.rail.fundingSourceCalls)
	}

	// The same overwrite again is a no-op.
	result, err = env.service.FixReceiver(context.Background(), domain.FixReceiverRequest{
		ShareableID:         bank.ShareableID,
		ForceUpdate:         true,
		NewFundingSourceURL: newURL,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.Action != domain.RepairActionNone {
		t.Fatalf("expected action none, got %q", result.Action)
	}
}

func TestFixReceiver_ForceUpdateRejectsMalformedURL(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	bank := env.addBank(user.ID, "access-token-1", "")

	_, err := env.service.FixReceiver(context.Background(), domain.FixReceiverRequest{
		ShareableID:         bank.ShareableID,
		ForceUpdate:         true,
		NewFundingSourceURL: "https://elsewhere.example.com/funding-sources/fs-1",
	})
	if !errors.Is(err, ErrMalformedEndpoint) {
		t.Fatalf("expected ErrMalformedEndpoint, got %v", err)
	}
}

func TestFixReceiver_UnknownShareableID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.FixReceiver(context.Background(), domain.FixReceiverRequest{
		ShareableID: domain.EncodeShareableID("acct-unknown"),
	})
	if !errors.Is(err, ErrReceiverBankNotFound) {
		t.Fatalf("expected ErrReceiverBankNotFound, got %v", err)
	}
}

func TestFixReceiver_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	bank := env.addBank(user.ID, "access-token-1", env.rail.fundingSourceURL("fs-good"))
	limiter := &fixedRateLimiter{count: 11, retryAfter: 42}
	env.service.SetRepairRateLimiter(limiter, 10)

	_, err := env.service.FixReceiver(context.Background(), domain.FixReceiverRequest{
		ShareableID: bank.ShareableID,
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected 1 limiter call, got %d", limiter.calls)
	}
}

func TestGetReceiverHealth(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	bank := env.addBank(user.ID, "access-token-1", env.sourceURL)

	health, err := env.service.GetReceiverHealth(context.Background(), bank.ShareableID)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if health.Status != domain.FundingSourceSelfReferential {
		t.Fatalf("expected self_referential, got %q", health.Status)
	}
	if !health.HasAccessToken {
		t.Fatalf("expected a usable access token")
	}
}

func TestListBankHealth(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	env.addBank(user.ID, "access-token-1", env.rail.fundingSourceURL("fs-good"))
	env.addBank(user.ID, domain.SentinelAccessToken, "")

	report, err := env.service.ListBankHealth(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(report))
	}
	statuses := map[string]int{}
	for _, entry := range report {
		statuses[entry.Status]++
	}
	if statuses[domain.FundingSourceHealthy] != 1 || statuses[domain.FundingSourceMissing] != 1 {
		t.Fatalf("expected one healthy and one missing entry, got %v", statuses)
	}
}

func TestLinkBank_CreatesBankAndFundingSource(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	env.plaid.accounts = []map[string]interface{}{
		{"account_id": "acct-linked-1", "name": "Plaid Checking"},
	}

	result, err := env.service.LinkBank(context.Background(), domain.LinkBankRequest{
		UserID:      user.ID,
		PublicToken: "public-sandbox-token",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if env.plaid.exchangeCalls != 1 {
		t.Fatalf("expected 1 token exchange, got %d", env.plaid.exchangeCalls)
	}
	if result.Bank.AccountID != "acct-linked-1" {
		t.Fatalf("expected account acct-linked-1, got %q", result.Bank.AccountID)
	}
	if result.Bank.ShareableID != domain.EncodeShareableID("acct-linked-1") {
		t.Fatalf("expected a derived shareable id, got %q", result.Bank.ShareableID)
	}
	if result.FundingSourceURL == "" {
		t.Fatalf("expected a provisioned funding source URL")
	}
	if _, ok := env.repo.banksByAccount["acct-linked-1"]; !ok {
		t.Fatalf("expected the bank record to be persisted")
	}
}

func TestLinkBank_ReusesExistingLink(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	existing := env.addBank(user.ID, "access-token-1", env.rail.fundingSourceURL("fs-good"))
	env.plaid.accounts = []map[string]interface{}{
		{"account_id": existing.AccountID, "name": "Plaid Checking"},
	}

	result, err := env.service.LinkBank(context.Background(), domain.LinkBankRequest{
		UserID:      user.ID,
		PublicToken: "public-sandbox-token",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.Bank.ID != existing.ID {
		t.Fatalf("expected the existing bank %s, got %s", existing.ID, result.Bank.ID)
	}
	if env.rail.fundingSourceCalls != 0 {
		t.Fatalf("expected the cached funding source to be reused, got %d creations", env.rail.fundingSourceCalls)
	}
}

func TestCreatePersonalFundingSource(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	env.rail.nextFundingSourceIDs = []string{"fs-personal"}

	result, err := env.service.CreatePersonalFundingSource(context.Background(), domain.PersonalFundingSourceRequest{
		CustomerID:    "cust-platform",
		RoutingNumber: "222222226",
		AccountNumber: "123456789",
		BankName:      "Platform Treasury",
		UserID:        &user.ID,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.FundingSourceURL != env.rail.fundingSourceURL("fs-personal") {
		t.Fatalf("expected fs-personal URL, got %q", result.FundingSourceURL)
	}
	if result.Bank == nil || result.Bank.AccessToken != domain.SentinelAccessToken {
		t.Fatalf("expected a bank record with the sentinel token, got %+v", result.Bank)
	}
	if result.ShareableID == nil {
		t.Fatalf("expected a derived shareable id")
	}
	decoded, err := domain.DecodeShareableID(*result.ShareableID)
	if err != nil {
		t.Fatalf("expected a decodable shareable id, got %v", err)
	}
	if decoded != "fs-personal" {
		t.Fatalf("expected account id fs-personal, got %q", decoded)
	}
}

func TestCreatePersonalFundingSource_RequiresBankDetails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.CreatePersonalFundingSource(context.Background(), domain.PersonalFundingSourceRequest{
		CustomerID: "cust-platform",
	})
	if !errors.Is(err, ErrInvalidTransferRequest) {
		t.Fatalf("expected ErrInvalidTransferRequest, got %v", err)
	}
}

func TestCreatePersonalFundingSource_UpdatesExistingBank(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser()
	existing := env.addBank(user.ID, domain.SentinelAccessToken, env.rail.fundingSourceURL("fs-old"))
	env.rail.nextFundingSourceIDs = []string{"fs-replacement"}

	result, err := env.service.CreatePersonalFundingSource(context.Background(), domain.PersonalFundingSourceRequest{
		CustomerID:     "cust-platform",
		RoutingNumber:  "222222226",
		AccountNumber:  "123456789",
		UserID:         &user.ID,
		UpdateExisting: true,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.Bank == nil || result.Bank.ID != existing.ID {
		t.Fatalf("expected the existing bank to be updated, got %+v", result.Bank)
	}
	if existing.FundingSourceURL == nil || *existing.FundingSourceURL != env.rail.fundingSourceURL("fs-replacement") {
		t.Fatalf("expected the replacement URL, got %v", existing.FundingSourceURL)
	}
}

func TestLinkBank_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.LinkBank(context.Background(), domain.LinkBankRequest{
		UserID:      uuid.New(),
		PublicToken: "public-sandbox-token",
	})
	if !errors.Is(err, ErrIdentityNotProvisioned) {
		t.Fatalf("expected ErrIdentityNotProvisioned, got %v", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/horizon-banking/transfer-service/internal/app"
	"github.com/horizon-banking/transfer-service/internal/domain"
	"github.com/horizon-banking/transfer-service/internal/store"
	"github.com/horizon-banking/transfer-service/pkg/dwollaclient"
	"github.com/horizon-banking/transfer-service/pkg/plaidclient"
)

const testInternalKey = "internal-test-key"

// apiRepoStub serves the handful of repository calls the handler tests need.
type apiRepoStub struct {
	store.Repository

	banks          map[uuid.UUID]*domain.Bank
	banksByAccount map[string]*domain.Bank
	users          map[uuid.UUID]*domain.User
	created        []*domain.Transaction
}

func newAPIRepoStub() *apiRepoStub {
	return &apiRepoStub{
		banks:          make(map[uuid.UUID]*domain.Bank),
		banksByAccount: make(map[string]*domain.Bank),
		users:          make(map[uuid.UUID]*domain.User),
	}
}

func (s *apiRepoStub) FindBankByID(ctx context.Context, bankID uuid.UUID) (*domain.Bank, error) {
	if bank, ok := s.banks[bankID]; ok {
		return bank, nil
	}
	return nil, store.ErrBankNotFound
}

func (s *apiRepoStub) FindBankByAccountID(ctx context.Context, accountID string) (*domain.Bank, error) {
	if bank, ok := s.banksByAccount[accountID]; ok {
		return bank, nil
	}
	return nil, store.ErrBankNotFound
}

func (s *apiRepoStub) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	var banks []domain.Bank
	for _, bank := range s.banks {
		banks = append(banks, *bank)
	}
	return banks, nil
}

func (s *apiRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if user, ok := s.users[userID]; ok {
		return user, nil
	}
	return nil, store.ErrUserNotFound
}

func (s *apiRepoStub) UpdateBankFundingSource(ctx context.Context, bankID uuid.UUID, fundingSourceURL string) error {
	bank, ok := s.banks[bankID]
	if !ok {
		return store.ErrBankNotFound
	}
	url := fundingSourceURL
	bank.FundingSourceURL = &url
	return nil
}

func (s *apiRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.created = append(s.created, tx)
	return nil
}

func (s *apiRepoStub) FindTransactionByTransferID(ctx context.Context, transferID string) (*domain.Transaction, error) {
	return nil, store.ErrTransactionNotFound
}

func (s *apiRepoStub) FindLatestMatchingTransaction(ctx context.Context, senderBankID, receiverBankID uuid.UUID, amount, name string) (*domain.Transaction, error) {
	return nil, store.ErrTransactionNotFound
}

type apiProducerStub struct{}

func (p *apiProducerStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}
func (p *apiProducerStub) PublishTransferCompleted(ctx context.Context, payload domain.TransferCompletedPayload) error {
	return nil
}
func (p *apiProducerStub) PublishLedgerRecordFailed(ctx context.Context, payload domain.LedgerRecordFailedPayload) error {
	return nil
}
func (p *apiProducerStub) Close() {}

// newTestRouter wires a router against a fake rail that accepts every
// transfer and an empty fake aggregator.
func newTestRouter(t *testing.T, repo *apiRepoStub) (http.Handler, string) {
	t.Helper()

	rail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/transfers":
			w.Header().Set("Location", "https://rail.test/transfers/txn-api-1")
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(rail.Close)

	plaid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(plaid.Close)

	sourceURL := rail.URL + "/funding-sources/verified-sender"
	service := app.NewService(
		repo,
		plaidclient.NewClient(plaid.URL, "client-id", "secret"),
		dwollaclient.NewClient(rail.URL, "token"),
		&apiProducerStub{},
		sourceURL,
		rail.URL,
	)
	return TransferRoutes(NewTransferHandlers(service), testInternalKey), rail.URL
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestInternalAuthMiddleware_RejectsMissingKey(t *testing.T) {
	router, _ := newTestRouter(t, newAPIRepoStub())

	req := httptest.NewRequest("GET", "/funding-sources/fix-receiver", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestHealthEndpointNeedsNoKey(t *testing.T) {
	router, _ := newTestRouter(t, newAPIRepoStub())

	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestCreateTransferHandler_Success(t *testing.T) {
	repo := newAPIRepoStub()
	router, railURL := newTestRouter(t, repo)

	sender := &domain.User{ID: uuid.New(), Email: "sender@example.com"}
	receiver := &domain.User{ID: uuid.New(), Email: "receiver@example.com"}
	repo.users[sender.ID] = sender
	repo.users[receiver.ID] = receiver

	sourceURL := railURL + "/funding-sources/verified-sender"
	senderBank := &domain.Bank{ID: uuid.New(), UserID: sender.ID, AccountID: "acct-s", AccessToken: domain.SentinelAccessToken, FundingSourceURL: &sourceURL}
	destURL := railURL + "/funding-sources/fs-receiver"
	receiverBank := &domain.Bank{ID: uuid.New(), UserID: receiver.ID, AccountID: "acct-r", AccessToken: "access-token-r", FundingSourceURL: &destURL, ShareableID: domain.EncodeShareableID("acct-r")}
	repo.banks[senderBank.ID] = senderBank
	repo.banks[receiverBank.ID] = receiverBank
	repo.banksByAccount["acct-s"] = senderBank
	repo.banksByAccount["acct-r"] = receiverBank

	body := `{"senderBankId":"` + senderBank.ID.String() + `","shareableId":"` + receiverBank.ShareableID + `","amount":"25.00","name":"Rent split","email":"receiver@example.com"}`
	recorder := doRequest(t, router, "POST", "/transfers", body)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	var tx domain.Transaction
	if err := json.Unmarshal(recorder.Body.Bytes(), &tx); err != nil {
		t.Fatalf("expected a transaction body, got %v", err)
	}
	if tx.TransferID == nil || *tx.TransferID != "txn-api-1" {
		t.Fatalf("expected transfer reference txn-api-1, got %v", tx.TransferID)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(repo.created))
	}
}

func TestCreateTransferHandler_InvalidSenderBankID(t *testing.T) {
	router, _ := newTestRouter(t, newAPIRepoStub())

	recorder := doRequest(t, router, "POST", "/transfers", `{"senderBankId":"not-a-uuid"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCreateTransferHandler_UnknownSenderBank(t *testing.T) {
	router, _ := newTestRouter(t, newAPIRepoStub())

	body := `{"senderBankId":"` + uuid.New().String() + `","shareableId":"` + domain.EncodeShareableID("acct-x") + `","amount":"10.00","name":"n","email":"e@example.com"}`
	recorder := doRequest(t, router, "POST", "/transfers", body)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestCreateTransferHandler_UnlinkedReceiverMapsTo402(t *testing.T) {
	repo := newAPIRepoStub()
	router, railURL := newTestRouter(t, repo)

	sender := &domain.User{ID: uuid.New(), Email: "sender@example.com"}
	receiver := &domain.User{ID: uuid.New(), Email: "receiver@example.com"}
	repo.users[sender.ID] = sender
	repo.users[receiver.ID] = receiver

	sourceURL := railURL + "/funding-sources/verified-sender"
	senderBank := &domain.Bank{ID: uuid.New(), UserID: sender.ID, AccountID: "acct-s", AccessToken: domain.SentinelAccessToken, FundingSourceURL: &sourceURL}
	receiverBank := &domain.Bank{ID: uuid.New(), UserID: receiver.ID, AccountID: "acct-r", AccessToken: domain.SentinelAccessToken, ShareableID: domain.EncodeShareableID("acct-r")}
	repo.banks[senderBank.ID] = senderBank
	repo.banks[receiverBank.ID] = receiverBank
	repo.banksByAccount["acct-s"] = senderBank
	repo.banksByAccount["acct-r"] = receiverBank

	body := `{"senderBankId":"` + senderBank.ID.String() + `","shareableId":"` + receiverBank.ShareableID + `","amount":"25.00","name":"Rent split","email":"receiver@example.com"}`
	recorder := doRequest(t, router, "POST", "/transfers", body)
	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (%s)", recorder.Code, recorder.Body.String())
	}
}

func TestFixReceiverHandler_MissingShareableID(t *testing.T) {
	router, _ := newTestRouter(t, newAPIRepoStub())

	recorder := doRequest(t, router, "POST", "/funding-sources/fix-receiver", `{}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestReceiverHealthHandler_Listing(t *testing.T) {
	repo := newAPIRepoStub()
	router, railURL := newTestRouter(t, repo)

	url := railURL + "/funding-sources/fs-1"
	bank := &domain.Bank{ID: uuid.New(), UserID: uuid.New(), AccountID: "acct-1", AccessToken: "access-token-1", FundingSourceURL: &url, ShareableID: domain.EncodeShareableID("acct-1")}
	repo.banks[bank.ID] = bank
	repo.banksByAccount["acct-1"] = bank

	recorder := doRequest(t, router, "GET", "/funding-sources/fix-receiver", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload struct {
		Banks []domain.BankHealth `json:"banks"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("expected a listing body, got %v", err)
	}
	if len(payload.Banks) != 1 || payload.Banks[0].Status != domain.FundingSourceHealthy {
		t.Fatalf("expected one healthy entry, got %+v", payload.Banks)
	}
}

func TestReceiverHealthHandler_UnknownShareableID(t *testing.T) {
	router, _ := newTestRouter(t, newAPIRepoStub())

	recorder := doRequest(t, router, "GET", "/funding-sources/fix-receiver?shareableId="+domain.EncodeShareableID("acct-none"), "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

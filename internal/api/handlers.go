/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strings: Standard Go libraries.
 * - github.com/google/uuid: For parsing id fields.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/horizon-banking/transfer-service/internal/app"
	"github.com/horizon-banking/transfer-service/internal/domain"
)

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service) *TransferHandlers {
	return &TransferHandlers{service: service}
}

// transferRequestBody mirrors the dashboard's payment transfer form.
type transferRequestBody struct {
	SenderBankID string `json:"senderBankId"`
	ShareableID  string `json:"shareableId"`
	Amount       string `json:"amount"`
	Name         string `json:"name"`
	Email        string `json:"email"`
}

// linkBankRequestBody carries the aggregator public token produced by the
// client-side link flow.
type linkBankRequestBody struct {
	UserID      string `json:"userId"`
	PublicToken string `json:"publicToken"`
}

// CreateTransferHandler handles requests for peer-to-peer transfers.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var body transferRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	senderBankID, err := uuid.Parse(strings.TrimSpace(body.SenderBankID))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid senderBankId")
		return
	}

	txRecord, err := h.service.ProcessTransfer(r.Context(), domain.TransferRequest{
		SenderBankID: senderBankID,
		ShareableID:  body.ShareableID,
		Amount:       body.Amount,
		Name:         body.Name,
		Email:        body.Email,
	})
	if err != nil {
		h.writeServiceError(w, "create_transfer", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, txRecord)
}

// LinkBankHandler handles requests to connect a new bank account.
func (h *TransferHandlers) LinkBankHandler(w http.ResponseWriter, r *http.Request) {
	var body linkBankRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, err := uuid.Parse(strings.TrimSpace(body.UserID))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid userId")
		return
	}

	result, err := h.service.LinkBank(r.Context(), domain.LinkBankRequest{
		UserID:      userID,
		PublicToken: body.PublicToken,
	})
	if err != nil {
		h.writeServiceError(w, "link_bank", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// CreatePersonalFundingSourceHandler provisions a send-capable funding source
// from raw bank account details.
func (h *TransferHandlers) CreatePersonalFundingSourceHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PersonalFundingSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreatePersonalFundingSource(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "personal_funding_source", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// FixReceiverHandler repairs the funding source of the bank link addressed by
// shareable id.
func (h *TransferHandlers) FixReceiverHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.FixReceiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.ShareableID) == "" {
		h.writeError(w, http.StatusBadRequest, "shareableId is required")
		return
	}

	result, err := h.service.FixReceiver(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "fix_receiver", err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ReceiverHealthHandler reports funding-source health: one bank link when a
// shareableId is given, otherwise every bank link.
func (h *TransferHandlers) ReceiverHealthHandler(w http.ResponseWriter, r *http.Request) {
	shareableID := strings.TrimSpace(r.URL.Query().Get("shareableId"))
	if shareableID == "" {
		report, err := h.service.ListBankHealth(r.Context())
		if err != nil {
			h.writeServiceError(w, "receiver_health", err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"banks": report})
		return
	}

	health, err := h.service.GetReceiverHealth(r.Context(), shareableID)
	if err != nil {
		h.writeServiceError(w, "receiver_health", err)
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

// writeServiceError maps business-logic errors onto HTTP statuses.
func (h *TransferHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidTransferRequest), errors.Is(err, domain.ErrInvalidShareableID), errors.Is(err, app.ErrSelfTransferConflict):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnlinkedAccount), errors.Is(err, app.ErrIdentityNotProvisioned):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrSenderBankNotFound), errors.Is(err, app.ErrReceiverBankNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrTransferRejected), errors.Is(err, app.ErrMalformedEndpoint):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

/**
 * @description
 * This file contains the HTTP handlers for the transfer service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service with the caller's
 * identity passed explicitly, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Error mapping: validation and business-rule violations (self transfer,
 * insufficient balance, invalid transition) map to 400, missing
 * authentication and wrong-party calls to 401, unknown transfers and
 * accounts to 404, and store failures to 500 with details logged server-side
 * only.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kshayk/pb-transaction/internal/app"
	"github.com/kshayk/pb-transaction/internal/domain"
	"github.com/kshayk/pb-transaction/internal/store"
)

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service) *TransferHandlers {
	return &TransferHandlers{service: service}
}

// transferResponse is the representation of a transfer returned to clients.
type transferResponse struct {
	TransferID string  `json:"transferId"`
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	Amount     int64   `json:"amount"`
	Note       *string `json:"note,omitempty"`
	Status     string  `json:"status"`
	ExpireAt   string  `json:"expireAt"`
}

func buildTransferResponse(transfer *domain.TransferRequest) transferResponse {
	return transferResponse{
		TransferID: transfer.ID.String(),
		SenderID:   transfer.SenderID.String(),
		ReceiverID: transfer.ReceiverID.String(),
		Amount:     transfer.Amount,
		Note:       transfer.Note,
		Status:     string(transfer.Status),
		ExpireAt:   transfer.ExpireAt.Format(time.RFC3339),
	}
}

// RequestTransferHandler handles requests to create a new transfer.
func (h *TransferHandlers) RequestTransferHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var payload domain.CreateTransferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	transfer, err := h.service.RequestTransfer(r.Context(), senderID, payload)
	if err != nil {
		h.writeTransferError(w, senderID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Transfer request sent",
		"transferId": transfer.ID.String(),
	})
}

// AcceptTransferHandler handles requests to accept a pending transfer.
func (h *TransferHandlers) AcceptTransferHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	transferID, ok := h.decodeTransferID(w, r)
	if !ok {
		return
	}

	if err := h.service.AcceptTransfer(r.Context(), callerID, transferID); err != nil {
		h.writeTransferError(w, callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Transfer request accepted"})
}

// RejectTransferHandler handles requests to reject a pending transfer.
func (h *TransferHandlers) RejectTransferHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	transferID, ok := h.decodeTransferID(w, r)
	if !ok {
		return
	}

	if err := h.service.RejectTransfer(r.Context(), callerID, transferID); err != nil {
		h.writeTransferError(w, callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Transfer request rejected"})
}

// GetTransferHandler returns a single transfer to one of its parties.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer ID")
		return
	}

	transfer, err := h.service.GetTransfer(r.Context(), callerID, transferID)
	if err != nil {
		// A transfer the caller is not party to is indistinguishable from a
		// missing one.
		if errors.Is(err, app.ErrNotParticipant) || errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer request not found")
			return
		}
		h.writeTransferError(w, callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, buildTransferResponse(transfer))
}

// ListHistoryHandler returns the caller's transaction history.
func (h *TransferHandlers) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	entries, err := h.service.ListHistory(r.Context(), callerID)
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to list history\" user_id=%s err=%v", callerID, err)
		h.writeError(w, http.StatusInternalServerError, "Error loading transaction history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

func (h *TransferHandlers) decodeTransferID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var payload domain.RespondTransferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return uuid.Nil, false
	}
	if payload.TransferRequestID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field transferRequestId")
		return uuid.Nil, false
	}
	transferID, err := uuid.Parse(payload.TransferRequestID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transferRequestId")
		return uuid.Nil, false
	}
	return transferID, true
}

// writeTransferError maps service and store errors onto status codes.
func (h *TransferHandlers) writeTransferError(w http.ResponseWriter, callerID uuid.UUID, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidPayload):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "Amount must be positive")
	case errors.Is(err, app.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, "Cannot transfer to yourself")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient balance")
	case errors.Is(err, store.ErrInvalidTransition):
		h.writeError(w, http.StatusBadRequest, "Transfer request is no longer pending")
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many transfer requests. Please wait and try again.")
	case errors.Is(err, app.ErrNotReceiver):
		h.writeError(w, http.StatusUnauthorized, "Only the receiver can respond to this transfer")
	case errors.Is(err, store.ErrTransferNotFound):
		h.writeError(w, http.StatusNotFound, "Transfer request not found")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	default:
		log.Printf("level=error component=api msg=\"transfer operation failed\" user_id=%s err=%v", callerID, err)
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

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/podx/oracle/internal/domain"
	"github.com/podx/oracle/internal/server/middleware"
	"github.com/podx/oracle/internal/session"
	"github.com/podx/oracle/internal/settlement"
)

// SessionHandler serves the signing-session endpoints (spec §6): courier
// milestone submission, counterparty resolve, and counterparty completion.
type SessionHandler struct {
	sessions    *session.Service
	coordinator *settlement.Coordinator
	linkBaseURL string
	logger      *slog.Logger
}

// NewSessionHandler constructs a SessionHandler. linkBaseURL is prefixed to
// a minted magic-link token to produce the URL handed to the counterparty
// (e.g. "https://oracle.example.com/signing-sessions").
func NewSessionHandler(sessions *session.Service, coordinator *settlement.Coordinator, linkBaseURL string, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		coordinator: coordinator,
		linkBaseURL: linkBaseURL,
		logger:      logger.With(slog.String("handler", "session")),
	}
}

type createSessionRequest struct {
	Kind              string  `json:"kind"`
	ShipmentID        string  `json:"shipmentId"`
	ShipmentHash      string  `json:"shipmentHash"`
	ChainOrderID      string  `json:"chainOrderId"`
	ClaimedTs         int64   `json:"claimedTs"`
	CurrentLat        float64 `json:"currentLat"`
	CurrentLon        float64 `json:"currentLon"`
	LocationHash      string  `json:"locationHash"`
	CourierSignature  string  `json:"courierSignature"`
	DistanceMeters    int64   `json:"distanceMeters,omitempty"`
	PickupLat         float64 `json:"pickupLat,omitempty"`
	PickupLon         float64 `json:"pickupLon,omitempty"`
	DropLat           float64 `json:"dropLat,omitempty"`
	DropLon           float64 `json:"dropLon,omitempty"`
	RadiusM           int64   `json:"radiusM,omitempty"`
	Notes             string  `json:"notes,omitempty"`
	CourierAddress    string  `json:"courierAddress"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Link      string `json:"link"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	Deadline  string `json:"deadline"`
}

// CreateSession handles POST /signing-sessions — a courier's milestone
// claim, submitted with their own EIP-712 signature over the claim.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.CourierSignature == "" {
		writeError(w, http.StatusBadRequest, "courierSignature is required")
		return
	}
	sig := common.FromHex(req.CourierSignature)

	var chainOrderID *big.Int
	if req.ChainOrderID != "" {
		var ok bool
		chainOrderID, ok = new(big.Int).SetString(req.ChainOrderID, 0)
		if !ok {
			chainOrderID, ok = new(big.Int).SetString(req.ChainOrderID, 10)
		}
		if !ok {
			writeError(w, http.StatusBadRequest, "chainOrderId must be a decimal or 0x-prefixed hex integer")
			return
		}
	}

	in := session.CreateInput{
		Kind:             domain.SessionKind(req.Kind),
		ShipmentID:       req.ShipmentID,
		ChainOrderID:     chainOrderID,
		ClaimedTs:        req.ClaimedTs,
		CurrentLat:       req.CurrentLat,
		CurrentLon:       req.CurrentLon,
		CourierSignature: sig,
		DistanceMeters:   req.DistanceMeters,
		RadiusM:          req.RadiusM,
		Courier:          common.HexToAddress(req.CourierAddress),
		Notes:            req.Notes,
	}

	result, err := h.sessions.Create(r.Context(), in)
	if err != nil {
		h.writeSessionError(w, r, "create", err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: result.Session.SessionUID,
		Link:      h.linkBaseURL + "/" + result.Session.SessionUID + "?t=" + result.Link,
		Role:      result.Session.Kind.ExpectedRole(),
		Kind:      string(result.Session.Kind),
		Deadline:  result.Session.Deadline.Format(rfc3339),
	})
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

type resolveSessionResponse struct {
	Session   sessionView `json:"session"`
	TypedData any         `json:"typedData"`
}

type sessionView struct {
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Deadline  string `json:"deadline"`
}

// ResolveSession handles GET /signing-sessions/{sessionId}?t={token} — the
// counterparty fetches the typed data they must countersign.
func (h *SessionHandler) ResolveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "sessionId")
	tok := r.URL.Query().Get("t")
	if tok == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	result, err := h.sessions.Resolve(r.Context(), sessionID, tok)
	if err != nil {
		h.writeSessionError(w, r, "resolve", err)
		return
	}

	writeJSON(w, http.StatusOK, resolveSessionResponse{
		Session: sessionView{
			SessionID: result.Session.SessionUID,
			Kind:      string(result.Session.Kind),
			Status:    string(result.Session.Status),
			Deadline:  result.Session.Deadline.Format(rfc3339),
		},
		TypedData: result.TypedData,
	})
}

type completeSessionRequest struct {
	Signature string `json:"signature"`
}

type completeSessionResponse struct {
	OK               bool   `json:"ok"`
	PickupTx         string `json:"pickupTx,omitempty"`
	DropTx           string `json:"dropTx,omitempty"`
	CourierRewardWei string `json:"courierRewardWei,omitempty"`
}

// CompleteSession handles POST /signing-sessions/{sessionId}/sign?t={token}
// — the counterparty's countersignature, which triggers settlement.
func (h *SessionHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "sessionId")
	tok := r.URL.Query().Get("t")
	if tok == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	var req completeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	result, err := h.sessions.Complete(r.Context(), session.CompleteInput{
		SessionUID:            sessionID,
		RawToken:              tok,
		CounterpartySignature: common.FromHex(req.Signature),
	})
	if err != nil {
		h.writeSessionError(w, r, "complete", err)
		return
	}

	writeJSON(w, http.StatusOK, completeSessionResponse{
		OK:               true,
		PickupTx:         result.PickupTx,
		DropTx:           result.DropTx,
		CourierRewardWei: result.CourierRewardWei,
	})
}

// ReconcilePickup handles the operator-only POST
// /ops/reconcile/{shipmentId}/pickup?fromBlock={n}. It re-derives a pickup
// settlement's outcome from the chain when the oracle process died between
// submitting a confirmPickup transaction and committing its relational
// state (spec §4.6's retry path).
func (h *SessionHandler) ReconcilePickup(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, h.coordinator.ReconcilePickup)
}

// ReconcileDrop is ReconcilePickup's drop-milestone counterpart.
func (h *SessionHandler) ReconcileDrop(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, h.coordinator.ReconcileDrop)
}

func (h *SessionHandler) reconcile(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, shipmentID string, fromBlock uint64) error) {
	shipmentID := pathParam(r, "shipmentId")
	fromBlock, err := strconv.ParseUint(r.URL.Query().Get("fromBlock"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "fromBlock must be a non-negative integer")
		return
	}

	subject := middleware.OpsSubject(r)
	logHandler(h.logger, "reconcile").InfoContext(r.Context(), "reconcile requested",
		slog.String("shipmentId", shipmentID), slog.Uint64("fromBlock", fromBlock), slog.String("operator", subject))

	if err := fn(r.Context(), shipmentID, fromBlock); err != nil {
		h.writeSessionError(w, r, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeSessionError maps a domain sentinel error to the HTTP status and
// body shape spec.md §7 defines for it.
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logHandler(h.logger, op).WarnContext(r.Context(), "session request failed", slog.String("err", err.Error()))

	var sigErr *domain.SignatureError
	if errors.As(err, &sigErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":          "BAD_SIGNATURE",
			"expectedSigner": sigErr.ExpectedSigner,
			"recovered":      sigErr.Recovered,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrTokenMissing):
		writeErrorKind(w, http.StatusBadRequest, "TOKEN_MISSING")
	case errors.Is(err, domain.ErrTokenInvalid):
		writeErrorKind(w, http.StatusForbidden, "TOKEN_INVALID")
	case errors.Is(err, domain.ErrLinkExpired):
		writeErrorKind(w, http.StatusForbidden, "LINK_EXPIRED")
	case errors.Is(err, domain.ErrLinkUsed):
		writeErrorKind(w, http.StatusConflict, "LINK_USED")
	case errors.Is(err, domain.ErrSessionGone):
		writeErrorKind(w, http.StatusNotFound, "SESSION_GONE")
	case errors.Is(err, domain.ErrSessionConflict):
		writeErrorKind(w, http.StatusConflict, "SESSION_CONFLICT")
	case errors.Is(err, domain.ErrRoleMismatch):
		writeErrorKind(w, http.StatusForbidden, "ROLE_MISMATCH")
	case errors.Is(err, domain.ErrRadiusExceeded):
		writeErrorKind(w, http.StatusForbidden, "RADIUS_EXCEEDED")
	case errors.Is(err, domain.ErrBadSignature):
		writeErrorKind(w, http.StatusBadRequest, "BAD_SIGNATURE")
	case errors.Is(err, domain.ErrBadDistance):
		writeErrorKind(w, http.StatusBadRequest, "BAD_DISTANCE")
	case errors.Is(err, domain.ErrShipmentState):
		writeErrorKind(w, http.StatusConflict, "SHIPMENT_STATE")
	case errors.Is(err, domain.ErrNotFound):
		writeErrorKind(w, http.StatusNotFound, "SHIPMENT_STATE")
	case errors.Is(err, domain.ErrChainFailed):
		writeErrorKind(w, http.StatusBadGateway, "CHAIN_FAILED")
	default:
		writeErrorKind(w, http.StatusInternalServerError, "INTERNAL")
	}
}

func writeErrorKind(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, map[string]string{"error": kind})
}

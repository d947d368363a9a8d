/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Awards:
    POST   /api/awards                      Credit points (admin/form)
    POST   /api/bonus                       Credit points (signed partner API)

  Accounts:
    GET    /api/accounts/{id}/balance       Derived balance + eligibility
    GET    /api/accounts/{id}/entries       Points history (audit trail)

  Policies:
    GET    /api/stores/{id}/policy          Read the store reward policy
    PUT    /api/stores/{id}/policy          Create/replace the policy
    GET    /api/stores/{id}/discount        Discount for an order subtotal

  Redemptions:
    POST   /api/orders/{orderID}/redemption Materialize a request for an order
    GET    /api/redemptions                 List by store and status
    GET    /api/redemptions/{id}            Request details
    POST   /api/redemptions/{id}/approve    Approve (debits the threshold)
    POST   /api/redemptions/{id}/reject     Reject with a reason

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (award service, redemption service, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Bad or missing bonus API signature
  - 404: Resource not found
  - 409: Conflict (already approved, concurrent resolution, stale balance)
  - 500: Internal errors

  A same-day duplicate award is NOT an error: it returns 200 with
  {awarded:0, duplicate:true} so external retries stay safe.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - cmd/server/main.go: Dependency wiring
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/loyalty"
	"github.com/fixpoint/loyalty-engine/reward"
	"github.com/fixpoint/loyalty-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Awards      *loyalty.AwardService
	Redemptions *loyalty.RedemptionService

	// Shared secret for the signed partner bonus API. Empty disables
	// POST /api/bonus entirely.
	BonusSecret string
}

// NewHandler wires the domain services over the given store.
func NewHandler(store *sqlite.Store, notifier loyalty.Notifier, bonusSecret string) *Handler {
	if notifier == nil {
		notifier = loyalty.NopNotifier{}
	}
	awards := &loyalty.AwardService{
		Store:    store,
		Accounts: account.NewProvisioner(store),
		Guard:    ledger.NewGuard(store),
		Policies: store,
		Notifier: notifier,
	}
	redemptions := &loyalty.RedemptionService{
		Store:    store,
		Requests: store,
		Accounts: store,
		Policies: store,
	}
	return &Handler{
		Store:       store,
		Awards:      awards,
		Redemptions: redemptions,
		BonusSecret: bonusSecret,
	}
}

// =============================================================================
// AWARD HANDLERS
// =============================================================================

// AwardPoints credits points to an email, creating the account on first
// contact. POST /api/awards
func (h *Handler) AwardPoints(w http.ResponseWriter, r *http.Request) {
	var req AwardPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.award(w, r, req)
}

// AwardBonus is the signed partner entry point. Same semantics as
// AwardPoints; the HMAC signature replaces a session. POST /api/bonus
func (h *Handler) AwardBonus(w http.ResponseWriter, r *http.Request) {
	if h.BonusSecret == "" {
		writeError(w, http.StatusNotFound, "Bonus API not configured", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	if err := verifySignature(r.Header.Get(SignatureHeader), body, h.BonusSecret, time.Now()); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid request signature", err)
		return
	}

	var req AwardPointsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Category == "" {
		req.Category = string(ledger.CategoryBonus)
	}
	h.award(w, r, req)
}

func (h *Handler) award(w http.ResponseWriter, r *http.Request, req AwardPointsRequest) {
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "store_id is required", nil)
		return
	}

	res, err := h.Awards.Award(r.Context(), loyalty.AwardRequest{
		Email:     req.Email,
		Name:      req.Name,
		StoreID:   ledger.StoreID(req.StoreID),
		Points:    req.Points,
		Category:  ledger.Category(req.Category),
		Reference: req.Reference,
	})
	if err != nil {
		writeDomainError(w, "Award failed", err)
		return
	}

	dto := AwardResultDTO{
		Awarded:   res.Awarded,
		Total:     res.Total,
		Duplicate: res.Duplicate,
	}
	if res.Account.ID != "" {
		// The token only travels on the response that created the account.
		dto.Account = toAccountDTO(res.Account, res.IsNew, res.IsNew)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns the derived balance and reward eligibility.
// GET /api/accounts/{id}/balance?store=
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	storeID := ledger.StoreID(r.URL.Query().Get("store"))
	if storeID == "" {
		writeError(w, http.StatusBadRequest, "store query parameter is required", nil)
		return
	}

	acc, err := h.Store.Get(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if acc == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	balance, err := h.Store.Balance(r.Context(), accountID, storeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to derive balance", err)
		return
	}

	dto := BalanceDTO{
		AccountID: string(accountID),
		StoreID:   string(storeID),
		Balance:   balance,
	}
	elig, err := h.Awards.Eligibility(r.Context(), accountID, storeID)
	switch {
	case errors.Is(err, ledger.ErrPolicyNotFound):
		// No policy configured: the balance still reads, nothing to earn toward.
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to evaluate eligibility", err)
		return
	default:
		dto.Eligible = elig.Eligible
		dto.Shortfall = elig.Shortfall
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetEntries returns the full points history for an account at a store.
// GET /api/accounts/{id}/entries?store=
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	storeID := ledger.StoreID(r.URL.Query().Get("store"))
	if storeID == "" {
		writeError(w, http.StatusBadRequest, "store query parameter is required", nil)
		return
	}

	acc, err := h.Store.Get(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	if acc == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	entries, err := h.Store.Load(r.Context(), accountID, storeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// GetPolicy returns the store's reward policy.
// GET /api/stores/{id}/policy
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	storeID := ledger.StoreID(chi.URLParam(r, "id"))

	policy, err := h.Store.Policy(r.Context(), storeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get policy", err)
		return
	}
	if policy == nil {
		writeError(w, http.StatusNotFound, "No policy configured for store", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*policy))
}

// PutPolicy creates or replaces the store's reward policy.
// PUT /api/stores/{id}/policy
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "id")

	var req PolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	magnitude, err := decimal.NewFromString(req.Magnitude)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid magnitude (decimal string expected)", err)
		return
	}

	policy := reward.Policy{
		StoreID:   storeID,
		Threshold: req.Threshold,
		Kind:      reward.Kind(req.Kind),
		Magnitude: magnitude,
		Name:      req.Name,
	}
	if !policy.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid policy (threshold must be >= 0, kind must be fixed, percentage or free_product)", nil)
		return
	}

	if err := h.Store.SavePolicy(r.Context(), policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(policy))
}

// GetDiscount computes the monetary discount the store's reward applies
// to an order subtotal. Called by the order system when applying an
// approved reward. GET /api/stores/{id}/discount?subtotal=
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	storeID := ledger.StoreID(chi.URLParam(r, "id"))

	subtotal, err := decimal.NewFromString(r.URL.Query().Get("subtotal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subtotal (decimal string expected)", err)
		return
	}

	policy, err := h.Store.Policy(r.Context(), storeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get policy", err)
		return
	}
	if policy == nil {
		writeError(w, http.StatusNotFound, "No policy configured for store", nil)
		return
	}

	writeJSON(w, http.StatusOK, DiscountDTO{
		Amount:      reward.DiscountAmount(*policy, subtotal).StringFixed(2),
		FreeProduct: policy.FreeProduct(),
		RewardName:  policy.Name,
	})
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// MaterializeRedemption lazily creates a pending request for an order
// whose account meets the threshold. Returns 204 when the account is not
// yet eligible or the store has no policy: nothing to offer, not an error.
// POST /api/orders/{orderID}/redemption
func (h *Handler) MaterializeRedemption(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "account_id and store_id are required", nil)
		return
	}

	request, err := h.Redemptions.GetOrCreateRequest(r.Context(), orderID,
		ledger.AccountID(req.AccountID), ledger.StoreID(req.StoreID))
	if err != nil {
		writeDomainError(w, "Failed to materialize redemption request", err)
		return
	}
	if request == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*request))
}

// ListRedemptions returns requests filtered by store and status.
// GET /api/redemptions?store=&status=
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	storeID := ledger.StoreID(r.URL.Query().Get("store"))
	status := loyalty.RequestStatus(r.URL.Query().Get("status"))
	if storeID == "" {
		writeError(w, http.StatusBadRequest, "store query parameter is required", nil)
		return
	}

	requests, err := h.Store.ListRequests(r.Context(), storeID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list redemption requests", err)
		return
	}

	dtos := make([]RedemptionDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toRedemptionDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRedemption returns one request. GET /api/redemptions/{id}
func (h *Handler) GetRedemption(w http.ResponseWriter, r *http.Request) {
	id := loyalty.RequestID(chi.URLParam(r, "id"))

	request, err := h.Store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get redemption request", err)
		return
	}
	if request == nil {
		writeError(w, http.StatusNotFound, "Redemption request not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*request))
}

// ApproveRedemption approves a pending or rejected request, debiting the
// threshold. POST /api/redemptions/{id}/approve
func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	id := loyalty.RequestID(chi.URLParam(r, "id"))

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	approved, err := h.Redemptions.Approve(r.Context(), id, req.Approver)
	if err != nil {
		writeDomainError(w, "Approval failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*approved))
}

// RejectRedemption rejects a pending request with a reason.
// POST /api/redemptions/{id}/reject
func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	id := loyalty.RequestID(chi.URLParam(r, "id"))

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rejected, err := h.Redemptions.Reject(r.Context(), id, req.Approver, req.Reason)
	if err != nil {
		writeDomainError(w, "Rejection failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*rejected))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses. Conflicts
// (terminal state, concurrent resolution, stale balance) are checked
// before the broader client-error class.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrAlreadyApproved),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

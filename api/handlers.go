/*
handlers.go - HTTP API handlers for the fee engine

PURPOSE:
  Exposes the fee reconciliation and payment engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Enrollments:
    GET    /api/enrollments/{id}/fees        Reconciled fee details + totals
    GET    /api/enrollments/{id}/ledger      Ledger events (component filter)
    PUT    /api/enrollments/{id}/overrides   Validate + upsert an override
    POST   /api/enrollments/{id}/payments    Validate + execute a payment
    POST   /api/enrollments/{id}/adjustments Create a discretionary adjustment

  Payments:
    PUT    /api/payments/{receiptID}         Revalidate + re-state a receipt
    DELETE /api/payments/{receiptID}         Cancel a receipt

  Adjustments:
    DELETE /api/adjustments/{id}             Cancel an adjustment

  Catalog:
    GET    /api/components                   Component catalog
    PUT    /api/plans/{planID}/items         Upsert a catalog row (admin)

  Admin:
    POST   /api/admin/reset                  Clear transactional data (demo)

REQUEST FLOW:
  1. Parse HTTP request
  2. Shape-validate the DTO (validator/v10 tags)
  3. Call domain logic (reconcile, validator, service, manager)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Failures are returned as {"error":{"message":...}} with the status mapped
  from the domain error class:
  - 400: Validation errors, invalid input
  - 404: Enrollment, receipt, or adjustment not found
  - 409: Conflict (double cancellation, duplicate receipt number race)
  - 502: Payment executor failure
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. Mutations carry an actor id
  in the request body for audit, nothing more.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/alpine/fee-engine/fees"
)

// planCacheTTL bounds how stale the catalog served by GET endpoints can be.
// Mutation paths always read the catalog inside their transaction.
const planCacheTTL = 5 * time.Minute

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// planAdmin is implemented by stores that can write the catalog. Catalog
// writes are admin tooling; the engine itself only reads plan items.
type planAdmin interface {
	SavePlanItem(ctx context.Context, item fees.PlanItem) error
}

// dataResetter is implemented by stores that can clear transactional data
// while keeping the catalog.
type dataResetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store fees.TxStore

	Engine      fees.ReconciliationEngine
	Overrides   fees.OverrideValidator
	Payments    fees.PaymentService
	Adjustments fees.AdjustmentManager

	planCache *fees.CatalogCache[[]fees.PlanItem]
	validate  *validator.Validate
	catalog   planAdmin
	resetter  dataResetter
}

// NewHandler wires the domain services over the given store. The admin
// endpoints light up when the store supports catalog writes and resets.
func NewHandler(store fees.TxStore) *Handler {
	ledger := fees.BalanceLedger{}
	h := &Handler{
		Store:     store,
		Engine:    fees.ReconciliationEngine{},
		Overrides: fees.OverrideValidator{Store: store, Ledger: ledger},
		Payments: fees.PaymentService{
			Validator: fees.PaymentValidator{Store: store},
			Executor:  fees.LedgerExecutor{Store: store, Ledger: ledger},
		},
		Adjustments: fees.AdjustmentManager{Store: store, Ledger: ledger},
		planCache:   fees.NewCatalogCache[[]fees.PlanItem](planCacheTTL),
		validate:    validator.New(),
	}
	if ca, ok := store.(planAdmin); ok {
		h.catalog = ca
	}
	if rs, ok := store.(dataResetter); ok {
		h.resetter = rs
	}
	return h
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

// GetFees returns the reconciled fee view for an enrollment.
// Query params: plan (required), year (current academic year, default 1).
func (h *Handler) GetFees(w http.ResponseWriter, r *http.Request) {
	enrollmentID := fees.EnrollmentID(chi.URLParam(r, "id"))

	planID := r.URL.Query().Get("plan")
	if planID == "" {
		writeError(w, http.StatusBadRequest, "plan query parameter is required")
		return
	}
	currentYear := 1
	if y := r.URL.Query().Get("year"); y != "" {
		n, err := strconv.Atoi(y)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "year must be a positive integer")
			return
		}
		currentYear = n
	}

	items, err := h.planCache.Get(r.Context(), planID, func(ctx context.Context) ([]fees.PlanItem, error) {
		return h.Store.ReadPlanItems(ctx, fees.PlanID(planID))
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load fee plan")
		return
	}

	overrides, err := h.Store.ReadOverrides(r.Context(), enrollmentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load overrides")
		return
	}
	balances, err := h.Store.ReadBalances(r.Context(), enrollmentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load balances")
		return
	}

	details := h.Engine.Reconcile(items, overrides, balances, currentYear)
	totals := fees.TotalsOf(details)

	resp := FeeSummaryDTO{
		EnrollmentID:     string(enrollmentID),
		CurrentYear:      currentYear,
		Details:          make([]FeeDetailDTO, len(details)),
		TotalCharged:     totals.Charged.Float64(),
		TotalPaid:        totals.Paid.Float64(),
		TotalOutstanding: totals.Outstanding.Float64(),
	}
	for i, d := range details {
		resp.Details[i] = toFeeDetailDTO(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLedger returns an enrollment's ledger events, optionally filtered by
// component (?component=TUITION).
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	enrollmentID := fees.EnrollmentID(chi.URLParam(r, "id"))
	component := fees.ComponentCode(r.URL.Query().Get("component"))

	events, err := h.Store.ReadLedger(r.Context(), enrollmentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load ledger")
		return
	}

	dtos := make([]LedgerEventDTO, 0, len(events))
	for _, e := range events {
		if component != "" && e.Component != component {
			continue
		}
		dtos = append(dtos, toLedgerEventDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutOverride validates and applies a fee override.
func (h *Handler) PutOverride(w http.ResponseWriter, r *http.Request) {
	enrollmentID := fees.EnrollmentID(chi.URLParam(r, "id"))

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := fees.OverrideSource(req.Source)
	if source == "" {
		source = fees.OverrideSourceAdHoc
	}

	result, err := h.Overrides.Apply(r.Context(), fees.OverrideInput{
		EnrollmentID: enrollmentID,
		PlanID:       fees.PlanID(req.PlanID),
		PlanItemID:   fees.PlanItemID(req.PlanItemID),
		Component:    fees.ComponentCode(req.Component),
		YearNumber:   req.YearNumber,
		NewAmount:    fees.NewMoney(req.Amount),
		Reason:       req.Reason,
		Source:       source,
		Actor:        req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OverrideResponse{
		EnrollmentID: string(enrollmentID),
		PlanItemID:   string(result.Override.PlanItemID),
		Component:    string(result.Override.Component),
		YearNumber:   result.Override.YearNumber,
		Amount:       result.Override.OverrideAmount.Float64(),
		Balance:      toBalanceDTO(result.Balance),
		Warnings:     result.Warnings,
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// PostPayment validates and executes a new payment.
func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	enrollmentID := fees.EnrollmentID(chi.URLParam(r, "id"))

	var req PaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, vr, err := h.Payments.Submit(r.Context(), req.toDomain(enrollmentID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(res, vr.Warnings))
}

// PutPayment revalidates and atomically re-states an existing receipt.
func (h *Handler) PutPayment(w http.ResponseWriter, r *http.Request) {
	receiptID := fees.ReceiptID(chi.URLParam(r, "receiptID"))

	receipt, err := h.Store.GetReceipt(r.Context(), receiptID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load receipt")
		return
	}
	if receipt == nil {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}

	var req PaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, vr, err := h.Payments.Edit(r.Context(), receiptID, req.toDomain(receipt.EnrollmentID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(res, vr.Warnings))
}

// DeletePayment cancels a receipt. Reason and actor come from query params:
// DELETE /api/payments/{receiptID}?reason=...&actor=...
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	receiptID := fees.ReceiptID(chi.URLParam(r, "receiptID"))
	reason := r.URL.Query().Get("reason")
	actor := r.URL.Query().Get("actor")
	if strings.TrimSpace(actor) == "" {
		writeError(w, http.StatusBadRequest, "actor query parameter is required")
		return
	}

	res, err := h.Payments.CancelReceipt(r.Context(), receiptID, reason, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(res, nil))
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// PostAdjustment creates a discretionary adjustment.
func (h *Handler) PostAdjustment(w http.ResponseWriter, r *http.Request) {
	enrollmentID := fees.EnrollmentID(chi.URLParam(r, "id"))

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var effectiveDate time.Time
	if req.EffectiveDate != "" {
		var err error
		effectiveDate, err = time.Parse("2006-01-02", req.EffectiveDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid effective_date format (use YYYY-MM-DD)")
			return
		}
	}

	adj, err := h.Adjustments.Create(r.Context(), fees.AdjustmentInput{
		EnrollmentID:  enrollmentID,
		Component:     fees.ComponentCode(req.Component),
		YearNumber:    req.YearNumber,
		Type:          fees.AdjustmentType(req.Type),
		Amount:        fees.NewMoney(req.Amount),
		Title:         req.Title,
		Reason:        req.Reason,
		EffectiveDate: effectiveDate,
		Actor:         req.Actor,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*adj))
}

// DeleteAdjustment cancels an adjustment, restoring the prior balance
// exactly. Reason and actor come from query params.
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id := fees.AdjustmentID(chi.URLParam(r, "id"))
	reason := r.URL.Query().Get("reason")
	actor := r.URL.Query().Get("actor")
	if strings.TrimSpace(actor) == "" {
		writeError(w, http.StatusBadRequest, "actor query parameter is required")
		return
	}

	adj, err := h.Adjustments.Cancel(r.Context(), id, reason, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*adj))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// GetComponents returns the component catalog.
func (h *Handler) GetComponents(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ComponentDTO, len(fees.DefaultComponents))
	for i, c := range fees.DefaultComponents {
		dtos[i] = ComponentDTO{
			Code:    string(c.Code),
			Label:   c.Label,
			OneTime: c.Code.OneTime(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutPlanItem upserts one catalog row and drops the plan's cache entry so
// the next fee view reflects the new amount.
func (h *Handler) PutPlanItem(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotImplemented, "catalog administration is not supported by this store")
		return
	}
	planID := chi.URLParam(r, "planID")

	var req PlanItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := fees.PlanItem{
		ID:         fees.PlanItemID(req.ID),
		PlanID:     fees.PlanID(planID),
		Component:  fees.ComponentCode(req.Component),
		YearNumber: req.YearNumber,
		Amount:     fees.NewMoney(req.Amount),
	}
	if err := h.catalog.SavePlanItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save plan item")
		return
	}
	h.planCache.Invalidate(planID)
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// PostReset clears transactional data, keeping the catalog. Demo tooling.
func (h *Handler) PostReset(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		writeError(w, http.StatusNotImplemented, "reset is not supported by this store")
		return
	}
	if err := h.resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset data")
		return
	}
	h.planCache.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// errorEnvelope is the uniform failure shape: {"error":{"message":...}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message}})
}

// writeDomainError maps a domain error class onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case fees.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case fees.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case fees.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case fees.IsExecution(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

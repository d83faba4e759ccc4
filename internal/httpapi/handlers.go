package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/service"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// caller returns the shop from the path and the principal requireAuth stored.
func caller(r *http.Request) (string, domain.Principal) {
	principal, _ := service.PrincipalFromContext(r.Context())
	return chi.URLParam(r, "shopID"), principal
}

// createdOr answers 201 for a new record and 200 for an idempotent replay.
func createdOr(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (a *API) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.RecordPurchase(r.Context(), shopID, req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, createdOr(result.Duplicate), result)
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	purchase, err := a.service.GetPurchase(r.Context(), shopID, chi.URLParam(r, "purchaseID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (a *API) handlePreviewDeletePurchase(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	result, err := a.service.PreviewDeletePurchase(r.Context(), shopID, chi.URLParam(r, "purchaseID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	result, err := a.service.DeletePurchase(r.Context(), shopID, chi.URLParam(r, "purchaseID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.RecordSale(r.Context(), shopID, req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, createdOr(result.Duplicate), result)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	invoice, err := a.service.GetInvoice(r.Context(), shopID, chi.URLParam(r, "invoiceID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.VoidRequest
	// The reason is optional, so an empty body is an empty request.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.VoidSale(r.Context(), shopID, chi.URLParam(r, "invoiceID"), req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePreviewDeleteSale(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	result, err := a.service.PreviewDeleteSale(r.Context(), shopID, chi.URLParam(r, "invoiceID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	result, err := a.service.DeleteSale(r.Context(), shopID, chi.URLParam(r, "invoiceID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleStockAdjustment(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.StockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.RecordStockAdjustment(r.Context(), shopID, req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, createdOr(result.Duplicate), result)
}

func (a *API) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var ids []string
	if raw := strings.TrimSpace(r.URL.Query().Get("product_ids")); raw != "" {
		ids = strings.Split(raw, ",")
	}
	levels, err := a.service.StockLevels(r.Context(), shopID, ids, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels})
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	level, err := a.service.StockLevel(r.Context(), shopID, chi.URLParam(r, "productID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (a *API) handleStockLedger(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	entries, err := a.service.StockLedger(r.Context(), shopID, chi.URLParam(r, "productID"), limit, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CreateCustomer(r.Context(), shopID, req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, createdOr(result.Duplicate), result)
}

func (a *API) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	balance, err := a.service.CreditBalance(r.Context(), shopID, chi.URLParam(r, "customerID"), principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleCustomerLedger(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	entries, err := a.service.CustomerLedger(r.Context(), shopID, chi.URLParam(r, "customerID"), limit, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleCreditPayment(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.CreditPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.RecordCreditPayment(r.Context(), shopID, req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, createdOr(result.Duplicate), result)
}

func (a *API) handleCreditAdjustment(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	var req domain.CreditAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.RecordCreditAdjustment(r.Context(), shopID, req, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, createdOr(result.Duplicate), result)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.AuditLogs(r.Context(), shopID, limit, principal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

// handleSyncBatch always answers 200 once the batch is readable: per-item
// failures travel in the body so one bad item never blocks the rest.
func (a *API) handleSyncBatch(w http.ResponseWriter, r *http.Request) {
	shopID, principal := caller(r)
	kind, ok := domain.SyncKindFromPath(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, store.NotFound("unknown sync kind %q", chi.URLParam(r, "kind")))
		return
	}

	var req domain.SyncBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("items must not be empty"))
		return
	}

	// A caller without any role in the shop gets a single 403 instead of
	// one forbidden error per item.
	if err := a.service.Gate().Authorize(r.Context(), principal, shopID, permission.AnyRole...); err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a.service.SyncBatch(r.Context(), shopID, kind, req.Items, principal))
}

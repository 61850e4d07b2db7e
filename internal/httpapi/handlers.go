package httpapi

import (
	"net/http"
	"time"

	"excisepos/backend/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleOpenCart(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.OpenCart(r.Context(), "")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": sale})
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetCart(r.Context(), "", r.PathValue("session"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": sale})
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := a.service.ClearCart(r.Context(), "", r.PathValue("session")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req domain.AddToCartRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.AddToCart(r.Context(), "", r.PathValue("session"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": sale})
}

func (a *API) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.SetQuantityRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.SetQuantity(r.Context(), "", r.PathValue("session"), r.PathValue("code"), req.Quantity)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": sale})
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.RemoveItem(r.Context(), "", r.PathValue("session"), r.PathValue("code"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": sale})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleFindBill(w http.ResponseWriter, r *http.Request) {
	bill, err := a.service.FindBill(r.Context(), "", r.PathValue("number"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := a.service.ListBills(r.Context(), "", r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (a *API) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	stock, err := a.service.CurrentStock(r.Context(), "", r.PathValue("code"), r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ledger, err := a.service.LedgerDays(r.Context(), "", r.PathValue("code"), query.Get("from"), query.Get("to"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	row, err := a.service.ApplyPurchase(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ledger_day": row})
}

func (a *API) handleProvision(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.EnsureCurrentMonthProvisioned(r.Context(), "")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRollover(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.RolloverIfNeeded(r.Context(), "")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ricemill/stock-ledger/ledger"
)

// =============================================================================
// CASHBOOK HANDLERS
// =============================================================================

func (h *Handler) ListCashCategories(w http.ResponseWriter, r *http.Request) {
	direction := ledger.CashDirection(r.URL.Query().Get("direction"))
	categories, err := h.Engine.ListCashCategories(r.Context(), direction)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]CashCategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = toCashCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RegisterCashCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RegisterCashCategoryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cat, err := h.Engine.RegisterCashCategory(r.Context(), ledger.RegisterCashCategoryInput{
		Direction:   ledger.CashDirection(req.Direction),
		Name:        req.Name,
		Description: req.Description,
		Actor:       actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashCategoryDTO(*cat))
}

// ListCashEntries accepts direction, category_id, from and to. from and to
// are inclusive calendar dates.
func (h *Handler) ListCashEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.CashEntryFilter{
		Direction:  ledger.CashDirection(q.Get("direction")),
		CategoryID: q.Get("category_id"),
	}
	fields := map[string]string{}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(dateLayout, v)
		if err != nil {
			fields["from"] = "must be a date in " + dateLayout + " format"
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(dateLayout, v)
		if err != nil {
			fields["to"] = "must be a date in " + dateLayout + " format"
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if len(fields) > 0 {
		h.writeError(w, r, &requestError{message: "invalid query", fields: fields})
		return
	}

	entries, err := h.Engine.ListCashEntries(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]CashEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCashEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordCashEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CashEntryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.Engine.RecordCashEntry(r.Context(), req.input(actor))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashEntryDTO(*entry))
}

func (h *Handler) GetCashEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Engine.GetCashEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCashEntryDTO(*entry))
}

func (h *Handler) UpdateCashEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CashEntryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.Engine.UpdateCashEntry(r.Context(), chi.URLParam(r, "id"), req.input(actor))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCashEntryDTO(*entry))
}

func (h *Handler) DeleteCashEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	entry, err := h.Engine.DeleteCashEntry(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCashEntryDTO(*entry))
}

func (req CashEntryRequest) input(actor string) ledger.CashEntryInput {
	var date time.Time
	if req.Date != "" {
		// Already checked by the datetime tag.
		date, _ = time.Parse(dateLayout, req.Date)
	}
	return ledger.CashEntryInput{
		CategoryID:  req.CategoryID,
		Amount:      req.Amount,
		Description: req.Description,
		Date:        date,
		Actor:       actor,
	}
}

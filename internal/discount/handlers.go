package discount

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-voucher/internal/common"
)

// Handler exposes the discount HTTP endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type updatePayload struct {
	DiscountPercent *float64 `json:"discountPercent" validate:"required,gte=0,lt=1"`
}

// Get returns the current discount. Reading requires any authenticated user.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.Svc.Get(r.Context())
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount not configured", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch discount", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

// Update replaces the discount percent. Admin only, enforced by middleware.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}
	var payload updatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	d, err := h.Svc.Update(r.Context(), id.AuthID, *payload.DiscountPercent)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoChange):
			common.JSONError(w, http.StatusBadRequest, "NO_CHANGE", "discount already at requested percent", nil)
		case errors.Is(err, ErrInvalidPercent):
			common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		case errors.Is(err, ErrNotConfigured):
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount not configured", nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update discount", nil)
		}
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

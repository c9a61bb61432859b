package stats

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-voucher/internal/common"
)

// Handler exposes the reporting HTTP endpoints.
type Handler struct {
	Svc *Service
}

// Total reports the all-time voucher count.
func (h *Handler) Total(w http.ResponseWriter, r *http.Request) {
	total, err := h.Svc.Total(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to compute total", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]int64{"total": total}})
}

// ByDay reports per-day issuance between startdate and enddate (dd/mm/yyyy,
// inclusive).
func (h *Handler) ByDay(w http.ResponseWriter, r *http.Request) {
	start, err := parseDate(r.URL.Query().Get("startdate"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid startdate", nil)
		return
	}
	end, err := parseDate(r.URL.Query().Get("enddate"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid enddate", nil)
		return
	}
	counts, err := h.Svc.ByDay(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, ErrInvalidRange) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_RANGE", "startdate must not be after enddate", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to compute daily stats", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": counts})
}

// ByMonth reports per-month issuance for a year.
func (h *Handler) ByMonth(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid year", nil)
		return
	}
	counts, err := h.Svc.ByMonth(r.Context(), year)
	if err != nil {
		if errors.Is(err, ErrInvalidRange) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_RANGE", "year must be 2020 or later", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to compute monthly stats", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": counts})
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(raw))
}

package voucher

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-voucher/internal/common"
	"github.com/noah-isme/backend-voucher/internal/wallet"
)

// Handler exposes the voucher HTTP endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type issuePayload struct {
	DriverPhoneNumber string `json:"driverPhoneNumber" validate:"required"`
	VoucherWorth      int64  `json:"voucherWorth" validate:"required,gt=0"`
	AmountBought      *int64 `json:"amountBought" validate:"omitempty,gt=0"`
}

type redeemPayload struct {
	UserPhoneNumber *string `json:"userPhoneNumber"`
}

// Issue sells a voucher to the authenticated driver.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}
	var payload issuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	v, err := h.Svc.Issue(r.Context(), id, IssueInput{
		DriverPhoneNumber: payload.DriverPhoneNumber,
		VoucherWorth:      payload.VoucherWorth,
		AmountBought:      payload.AmountBought,
	})
	if err != nil {
		h.renderIssueError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": v})
}

// Redeem pays out a voucher identified by its pin.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}
	pin := strings.TrimSpace(chi.URLParam(r, "pin"))
	if !ValidPin(pin) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pin", nil)
		return
	}
	var payload redeemPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	v, err := h.Svc.Redeem(r.Context(), id, RedeemInput{Pin: pin, UserPhoneNumber: payload.UserPhoneNumber})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "voucher not found", nil)
		case errors.Is(err, ErrAlreadySold):
			// A repeat redemption is benign: the voucher was paid out already.
			common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"message": "Voucher Sold"}})
		default:
			renderGatewayOr500(w, err, "failed to redeem voucher")
		}
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Get fetches a single voucher by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "voucherID")
	voucherID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid voucher id", nil)
		return
	}
	v, err := h.Svc.GetByID(r.Context(), voucherID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "voucher not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch voucher", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// GetByPin fetches a single voucher by its redemption pin.
func (h *Handler) GetByPin(w http.ResponseWriter, r *http.Request) {
	pin := strings.TrimSpace(chi.URLParam(r, "pin"))
	if !ValidPin(pin) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pin", nil)
		return
	}
	v, err := h.Svc.GetByPin(r.Context(), pin)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "voucher not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch voucher", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Mine lists every voucher the authenticated driver has issued.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}
	vouchers, err := h.Svc.ListByDriver(r.Context(), id.AuthID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list vouchers", nil)
		return
	}
	if len(vouchers) == 0 {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no vouchers for driver", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": vouchers})
}

// List returns a filtered, paginated page of vouchers.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePage(chi.URLParam(r, "page"), 1)
	perPage := common.ParsePage(chi.URLParam(r, "perPage"), 20)

	f, err := filterFromQuery(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	vouchers, err := h.Svc.List(r.Context(), f, common.Pagination{Page: page, PerPage: perPage})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list vouchers", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": vouchers,
		"meta": map[string]any{"page": page, "perPage": perPage},
	})
}

func (h *Handler) renderIssueError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNoDiscount) {
		common.JSONError(w, http.StatusInternalServerError, "NO_DISCOUNT", "discount not configured", nil)
		return
	}
	renderGatewayOr500(w, err, "failed to issue voucher")
}

// renderGatewayOr500 passes a wallet refusal through verbatim, everything
// else becomes an opaque 500.
func renderGatewayOr500(w http.ResponseWriter, err error, fallback string) {
	var gw *wallet.GatewayError
	if errors.As(err, &gw) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(gw.Status)
		_, _ = w.Write(gw.Body)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", fallback, nil)
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter

	strField := func(name string, dst **string) {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			*dst = &v
		}
	}
	intField := func(name string, dst **int64) error {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errors.New("invalid " + name)
		}
		*dst = &n
		return nil
	}

	strField("driverId", &f.DriverID)
	strField("driverPhoneNumber", &f.DriverPhoneNumber)
	strField("userPhoneNumber", &f.UserPhoneNumber)
	for _, c := range []struct {
		name string
		dst  **int64
	}{
		{"id", &f.ID},
		{"minDiscountAmount", &f.MinDiscountAmount},
		{"maxDiscountAmount", &f.MaxDiscountAmount},
		{"minVoucherWorth", &f.MinVoucherWorth},
		{"maxVoucherWorth", &f.MaxVoucherWorth},
	} {
		if err := intField(c.name, c.dst); err != nil {
			return Filter{}, err
		}
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || (n != int(StatusUnsold) && n != int(StatusSold)) {
			return Filter{}, errors.New("invalid status")
		}
		st := Status(n)
		f.Status = &st
	}
	return f, nil
}

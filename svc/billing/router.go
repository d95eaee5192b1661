package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/httpserver"
	"github.com/shoplink/cryptobill/pkg/logger"
	"github.com/shoplink/cryptobill/pkg/payment"
)

// NewRouter mounts the billing HTTP surface. Probes become the readiness
// side of GET /healthz.
func NewRouter(svc *Service, log *slog.Logger, probes ...func(context.Context) error) chi.Router {
	if svc == nil {
		panic("billing: Service is required")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &handlers{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/subscriptions", h.createSubscription)
	r.Post("/subscriptions/{id}/invoices", h.issueInvoice)
	r.Post("/subscriptions/{id}/payments", h.submitPayment)
	r.Post("/subscriptions/upgrade", h.startUpgrade)
	r.Post("/promo/activate", h.activatePromo)
	r.Post("/callbacks/{chain}", h.handleCallback)
	r.Get("/plans", h.listPlans)
	r.Get("/healthz", httpserver.HealthCheckHandler(context.Background(), log, probes...))

	return r
}

type handlers struct {
	svc *Service
	log *slog.Logger
}

type subscriptionResponse struct {
	ID        uuid.UUID       `json:"id"`
	ShopID    *uuid.UUID      `json:"shop_id,omitempty"`
	Tier      string          `json:"tier"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
}

func (h *handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShopID uuid.UUID `json:"shop_id"`
		Tier   string    `json:"tier"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.svc.Subscribe(r.Context(), req.ShopID, req.Tier)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, subscriptionResponse{
		ID:        sub.ID,
		ShopID:    sub.ShopID,
		Tier:      string(sub.Tier),
		AmountUSD: sub.AmountUSD,
		Kind:      string(sub.Kind),
		Status:    string(sub.Status),
	})
}

func (h *handlers) issueInvoice(w http.ResponseWriter, r *http.Request) {
	subID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Chain string `json:"chain"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.svc.IssueInvoice(r.Context(), subID, req.Chain)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, view)
}

type paymentResponse struct {
	Status        payment.Status        `json:"status"`
	Confirmations int                   `json:"confirmations"`
	Subscription  *subscriptionResponse `json:"subscription,omitempty"`
}

func (h *handlers) submitPayment(w http.ResponseWriter, r *http.Request) {
	subID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		TxHash string `json:"tx_hash"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.TxHash == "" {
		h.respond(w, http.StatusBadRequest, errorBody("tx_hash is required"))
		return
	}

	res, err := h.svc.ConfirmPayment(r.Context(), subID, req.TxHash)
	if errors.Is(err, payment.ErrUnderConfirmed) {
		// Not a failure: the transaction exists and pays the right amount,
		// it just needs more depth. Tell the client to retry.
		w.Header().Set("Retry-After", "30")
		h.respond(w, http.StatusAccepted, paymentResult(res))
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, paymentResult(res))
}

func (h *handlers) startUpgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShopID uuid.UUID `json:"shop_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.svc.StartUpgrade(r.Context(), req.ShopID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, view)
}

func (h *handlers) activatePromo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64     `json:"user_id"`
		ShopID uuid.UUID `json:"shop_id"`
		Code   string    `json:"code"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		h.respond(w, http.StatusBadRequest, errorBody("code is required"))
		return
	}

	sub, err := h.svc.ActivatePromo(r.Context(), req.UserID, req.ShopID, req.Code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, subscriptionResponse{
		ID:        sub.ID,
		ShopID:    sub.ShopID,
		Tier:      string(sub.Tier),
		AmountUSD: sub.AmountUSD,
		Kind:      string(sub.Kind),
		Status:    string(sub.Status),
	})
}

func (h *handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	chain := chi.URLParam(r, "chain")

	var req struct {
		Address       string          `json:"address"`
		TxHash        string          `json:"tx_hash"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
		Confirmations int             `json:"confirmations"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.HandleCallback(r.Context(), chain, payment.Callback{
		Address:       req.Address,
		TxHash:        req.TxHash,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Confirmations: req.Confirmations,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, paymentResult(res))
}

func (h *handlers) listPlans(w http.ResponseWriter, r *http.Request) {
	type planView struct {
		Tier        string          `json:"tier"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		PriceUSD    decimal.Decimal `json:"price_usd"`
	}
	plans := h.svc.Plans()
	out := make([]planView, 0, len(plans))
	for _, p := range plans {
		out = append(out, planView{Tier: p.Tier, Name: p.Name, Description: p.Description, PriceUSD: p.PriceUSD})
	}
	h.respond(w, http.StatusOK, map[string]any{"plans": out})
}

func paymentResult(res payment.Result) paymentResponse {
	out := paymentResponse{Status: res.Status, Confirmations: res.Confirmations}
	if res.Subscription != nil {
		out.Subscription = &subscriptionResponse{
			ID:        res.Subscription.ID,
			ShopID:    res.Subscription.ShopID,
			Tier:      string(res.Subscription.Tier),
			AmountUSD: res.Subscription.AmountUSD,
			Kind:      string(res.Subscription.Kind),
			Status:    string(res.Subscription.Status),
		}
	}
	return out
}

func (h *handlers) pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("invalid "+key))
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respond(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

func (h *handlers) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (h *handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", logger.Error(err))
		h.respond(w, status, errorBody("internal error"))
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "10")
	}
	h.respond(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

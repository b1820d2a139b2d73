package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/storage"
	"storefront/internal/surfaceauth"
	"storefront/internal/wallet"
)

const headerRequestID = "X-Request-Id"

// Deps are the components the bridge exposes to UI surfaces.
type Deps struct {
	Cart     *cart.Store
	Wallet   *wallet.Authenticator
	Checkout *checkout.Orchestrator
	Storage  storage.Store
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Server is the local HTTP bridge UI surfaces use to share one cart, wallet
// session and checkout.
type Server struct {
	cart       *cart.Store
	auth       *wallet.Authenticator
	checkout   *checkout.Orchestrator
	surface    *surfaceauth.Verifier
	metrics    *metrics.Registry
	validate   *validator.Validate
	log        *slog.Logger
	httpServer *http.Server

	storageHealthFn func(context.Context) error
	walletHealthFn  func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	log := logger.Or(deps.Logger).With("component", "bridge")
	surfaceVerifier := &surfaceauth.Verifier{
		Secret:  cfg.Service.SurfaceSecret,
		MaxSkew: cfg.Service.SurfaceSkew,
		Logger:  log,
	}

	s := &Server{
		cart:     deps.Cart,
		auth:     deps.Wallet,
		checkout: deps.Checkout,
		surface:  surfaceVerifier,
		metrics:  deps.Metrics,
		validate: validator.New(),
		log:      log,
	}

	if checker, ok := deps.Storage.(storage.Pinger); ok {
		s.storageHealthFn = checker.Ping
	}
	if deps.Wallet != nil {
		s.walletHealthFn = deps.Wallet.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the routed bridge with request ids and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	signed := func(h http.HandlerFunc) http.Handler { return s.surface.Middleware(h) }

	mux.HandleFunc("GET /api/v1/cart", s.handleGetCart)
	mux.Handle("POST /api/v1/cart/items", signed(s.handleAddItem))
	mux.Handle("PATCH /api/v1/cart/items/{id}", signed(s.handleUpdateItem))
	mux.Handle("DELETE /api/v1/cart/items/{id}", signed(s.handleRemoveItem))
	mux.Handle("DELETE /api/v1/cart", signed(s.handleClearCart))
	mux.HandleFunc("GET /api/v1/stores/{slug}/cart", s.handleStoreCart)

	mux.HandleFunc("GET /api/v1/wallet", s.handleGetWallet)
	mux.Handle("POST /api/v1/wallet/connect", signed(s.handleConnectWallet))
	mux.Handle("POST /api/v1/wallet/disconnect", signed(s.handleDisconnectWallet))

	mux.HandleFunc("GET /api/v1/checkout", s.handleGetCheckout)
	mux.Handle("PUT /api/v1/checkout/form", signed(s.handleCheckoutForm))
	mux.Handle("POST /api/v1/checkout/submit", signed(s.handleCheckoutSubmit))
	mux.Handle("POST /api/v1/checkout/retry", signed(s.handleCheckoutRetry))
	mux.Handle("POST /api/v1/checkout/cancel", signed(s.handleCheckoutCancel))
	mux.Handle("POST /api/v1/checkout/verify", signed(s.handleCheckoutVerify))

	mux.Handle("GET /api/v1/metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	return s.requestIDMiddleware(mux)
}

func (s *Server) Start() error {
	s.log.Info("bridge listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type addItemRequest struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Price     string `json:"price" validate:"required,numeric"`
	Currency  string `json:"currency" validate:"required"`
	Image     string `json:"image"`
	StoreSlug string `json:"storeSlug" validate:"required"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type storeCartResponse struct {
	StoreSlug string      `json:"storeSlug"`
	Items     []cart.Item `json:"items"`
	Total     string      `json:"total"`
}

type walletResponse struct {
	Connected bool      `json:"connected"`
	Address   string    `json:"address,omitempty"`
	PublicKey string    `json:"publicKey,omitempty"`
	User      *api.User `json:"user,omitempty"`
}

type checkoutFormRequest struct {
	Email     string `json:"email"`
	StoreSlug string `json:"storeSlug" validate:"required"`
}

type verifyRequest struct {
	Signature string `json:"signature" validate:"required"`
}

type checkoutResponse struct {
	Phase            checkout.Phase       `json:"phase"`
	Attempt          uint64               `json:"attempt"`
	Email            string               `json:"email"`
	StoreSlug        string               `json:"storeSlug"`
	Wallet           string               `json:"wallet,omitempty"`
	Items            []cart.Item          `json:"items"`
	Line             *cart.Item           `json:"line,omitempty"`
	Total            string               `json:"total"`
	Session          *api.CheckoutSession `json:"session,omitempty"`
	Status           *api.PaymentStatus   `json:"status,omitempty"`
	Countdown        string               `json:"countdown,omitempty"`
	RemainingSeconds int64                `json:"remainingSeconds"`
	Expired          bool                 `json:"expired"`
	Error            string               `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cart.Snapshot())
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemRequest
	if !s.decode(w, r, &payload) {
		return
	}
	c, err := s.cart.AddToCart(r.Context(), cart.Product{
		ID:        payload.ID,
		Name:      payload.Name,
		Price:     payload.Price,
		Currency:  payload.Currency,
		Image:     payload.Image,
		StoreSlug: payload.StoreSlug,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload updateItemRequest
	if !s.decode(w, r, &payload) {
		return
	}
	writeJSON(w, http.StatusOK, s.cart.UpdateQuantity(r.Context(), r.PathValue("id"), payload.Quantity))
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cart.RemoveFromCart(r.Context(), r.PathValue("id")))
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cart.ClearCart(r.Context()))
}

func (s *Server) handleStoreCart(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	items := s.cart.GetStoreItems(slug)
	writeJSON(w, http.StatusOK, storeCartResponse{StoreSlug: slug, Items: items, Total: cart.FormatTotal(items)})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.walletView())
}

func (s *Server) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Connect(r.Context()); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, wallet.ErrWalletFailed) {
			status = http.StatusBadGateway
		}
		writeError(w, status, wallet.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, s.walletView())
}

func (s *Server) handleDisconnectWallet(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Disconnect(r.Context()); err != nil {
		s.log.Error("wallet disconnect", "request_id", requestID(r), "err", err)
	}
	writeJSON(w, http.StatusOK, s.walletView())
}

func (s *Server) walletView() walletResponse {
	sess := s.auth.Session()
	resp := walletResponse{Connected: sess.Connected(), Address: sess.Address, PublicKey: sess.PublicKey}
	if user := s.auth.User(); user.ID != "" {
		resp.User = &user
	}
	return resp
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checkoutView())
}

func (s *Server) handleCheckoutForm(w http.ResponseWriter, r *http.Request) {
	var payload checkoutFormRequest
	if !s.decode(w, r, &payload) {
		return
	}
	if err := s.checkout.SetForm(payload.Email, payload.StoreSlug); err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.checkoutView())
}

func (s *Server) handleCheckoutSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.checkout.Submit(r.Context()); err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.checkoutView())
}

func (s *Server) handleCheckoutRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.checkout.Retry(); err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.checkoutView())
}

func (s *Server) handleCheckoutCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.checkout.Cancel(); err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.checkoutView())
}

func (s *Server) handleCheckoutVerify(w http.ResponseWriter, r *http.Request) {
	var payload verifyRequest
	if !s.decode(w, r, &payload) {
		return
	}
	if _, err := s.checkout.Verify(r.Context(), payload.Signature); err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.checkoutView())
}

func (s *Server) checkoutView() checkoutResponse {
	st := s.checkout.State()
	sum := s.checkout.Summary()
	resp := checkoutResponse{
		Phase:     st.Phase,
		Attempt:   st.Attempt,
		Email:     st.Email,
		StoreSlug: st.StoreSlug,
		Wallet:    st.Wallet,
		Items:     sum.Items,
		Line:      sum.Line,
		Total:     sum.Total,
		Session:   st.Session,
		Status:    st.Status,
		Expired:   st.Expired,
		Error:     st.ErrorText(),
	}
	if st.Phase == checkout.PhasePayment || st.Expired {
		resp.Countdown = checkout.FormatCountdown(st.Remaining)
		resp.RemainingSeconds = int64(st.Remaining / time.Second)
	}
	return resp
}

func (s *Server) writeCheckoutError(w http.ResponseWriter, err error) {
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, checkout.UserMessage(err))
	case errors.Is(err, checkout.ErrInvalidTransition), errors.Is(err, checkout.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, api.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, checkout.UserMessage(err))
	default:
		writeError(w, http.StatusBadGateway, checkout.UserMessage(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	storageInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.storageHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.storageHealthFn(dbCtx); err != nil {
			storageInfo.Connected = false
			storageInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	// Signer availability is reported but does not degrade the bridge: the
	// cart keeps working without a wallet.
	walletInfo := struct {
		Available bool    `json:"available"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}
	if s.walletHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.walletHealthFn(rpcCtx); err != nil {
			walletInfo.Error = wallet.Message(err)
		} else {
			walletInfo.Available = true
			walletInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string `json:"status"`
		Storage  any    `json:"storage"`
		Wallet   any    `json:"wallet"`
		Checkout string `json:"checkout"`
	}{
		Status:   status,
		Storage:  storageInfo,
		Wallet:   walletInfo,
		Checkout: string(s.checkout.State().Phase),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerRequestID) == "" {
			r.Header.Set(headerRequestID, uuid.NewString())
		}
		w.Header().Set(headerRequestID, r.Header.Get(headerRequestID))

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r),
		)
	})
}

func requestID(r *http.Request) string {
	return r.Header.Get(headerRequestID)
}

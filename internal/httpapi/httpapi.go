package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/logger"
	"excisepos/backend/internal/service"
	"excisepos/backend/internal/store"
)

const (
	maxBodyBytes     = 1 << 20
	requestIDHeader  = "X-Request-ID"
	managerPINHeader = "X-Manager-PIN"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	validate      *validator.Validate
	pinLimiter    *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		validate:      newValidator(),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		logger:        log,
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("POST /api/v1/carts", a.requireAuth(a.handleOpenCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/carts/{session}", a.requireAuth(a.handleGetCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/carts/{session}", a.requireAuth(a.handleClearCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/carts/{session}/items", a.requireAuth(a.handleAddToCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/carts/{session}/items/{code}", a.requireAuth(a.handleSetQuantity, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/carts/{session}/items/{code}", a.requireAuth(a.handleRemoveItem, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("POST /api/v1/checkout", a.requireAuth(a.handleCheckout, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/bills", a.requireAuth(a.handleListBills, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/bills/{number}", a.requireAuth(a.handleFindBill, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/stock/{code}", a.requireAuth(a.handleCurrentStock, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/stock/{code}/ledger", a.requireAuth(a.handleLedger, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/stock/purchases", a.requireAuth(a.handlePurchase, domain.RoleAdmin))

	mux.HandleFunc("POST /api/v1/ledger/provision", a.requireAuth(a.requireManagerPIN(a.handleProvision), domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/ledger/rollover", a.requireAuth(a.requireManagerPIN(a.handleRollover), domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx, a.logger).With(zap.String("actor", actor.Username)))
		next(w, r.WithContext(ctx))
	}
}

// requireManagerPIN guards ledger maintenance. Wrong PINs count against the
// caller's address.
func (a *API) requireManagerPIN(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.pinLimiter.Allow(clientKey(r)) {
			a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(r.Header.Get(managerPINHeader)) {
			a.writeError(w, r, http.StatusForbidden, errors.New("manager PIN required"))
			return
		}
		next(w, r)
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Manager-PIN, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		reqLog := a.logger.With(zap.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLog))

		rec := &statusRecorder{ResponseWriter: w}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		reqLog.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// decodeJSON reads a single JSON object into dest and validates it.
func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{details: []ValidationDetail{{Field: "body", Message: "Request body too large"}}}
		}
		return &requestError{details: []ValidationDetail{{Field: "body", Message: "Malformed JSON"}}}
	}
	return validateRequest(a.validate, dest)
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, domain.ErrCartNotFound):
		return http.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	a.writeError(w, r, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log only.
	payload := map[string]any{"error": err.Error()}
	if status >= 500 {
		logger.FromContext(r.Context(), a.logger).Error("request failed", zap.Int("status", status), zap.Error(err))
		payload["error"] = "internal server error"
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		payload["error"] = "request validation failed"
		payload["details"] = reqErr.details
	}
	if commitErr, ok := service.IsCommitError(err); ok {
		payload["state"] = commitErr.State
		payload["kind"] = commitErr.Kind
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

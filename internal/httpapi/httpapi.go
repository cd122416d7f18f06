package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/pricing"
	"beanpos/backend/internal/service"
	"beanpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
}

func New(svc *service.Service, auth *AuthManager, logger *zap.Logger, allowedOrigin string) *API {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(a.cors)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Route("/api/v1/products", func(r chi.Router) {
			r.Get("/", a.handleListProducts)
			r.Post("/", a.handleCreateProduct)
			r.Get("/categories", a.handleListCategories)
			r.Get("/low-stock", a.handleLowStock)
			r.Get("/export", a.handleExportProducts)
			r.Post("/import", a.handleImportProducts)
			r.Get("/{productID}", a.handleGetProduct)
			r.Put("/{productID}", a.handleUpdateProduct)
			r.Delete("/{productID}", a.handleDeleteProduct)
			r.Get("/{productID}/describe", a.handleDescribeProduct)
		})

		r.Route("/api/v1/register", func(r chi.Router) {
			r.Get("/", a.handleRegisterState)
			r.Post("/sales", a.handleNewSale)
			r.Post("/sales/{saleID}/activate", a.handleSwitchSale)
			r.Delete("/sales/{saleID}", a.handleDeleteSale)
			r.Post("/items", a.handleAddItem)
			r.Put("/items/{productID}", a.handleSetQuantity)
			r.Delete("/items/{productID}", a.handleRemoveItem)
			r.Put("/items/{productID}/notes", a.handleSetNotes)
			r.Post("/discount", a.handleApplyDiscount)
			r.Delete("/discount", a.handleRemoveDiscount)
			r.Post("/checkout", a.handleCheckout)
		})

		r.Route("/api/v1/orders", func(r chi.Router) {
			r.Get("/", a.handleListOrders)
			r.Get("/export", a.handleExportOrders)
			r.Get("/{orderID}", a.handleGetOrder)
		})

		r.Post("/api/v1/stock/adjustments", a.handleAdjustStock)
		r.Get("/api/v1/stock/logs", a.handleListStockLogs)

		r.Get("/api/v1/reports/sales", a.handleSalesReport)

		r.Get("/api/v1/settings", a.handleGetSettings)
		r.Put("/api/v1/settings", a.handleUpdateSettings)

		r.Get("/api/v1/branches", a.handleListBranches)

		r.Route("/api/v1/users", func(r chi.Router) {
			r.Get("/", a.handleListUsers)
			r.Post("/", a.handleCreateUser)
			r.Put("/{userID}", a.handleUpdateUser)
			r.Delete("/{userID}", a.handleDeleteUser)
		})
	})

	return r
}

// ---- middleware ----

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// ---- auth ----

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- products ----

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("category"), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.LowStockProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleDescribeProduct(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DescribeProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleExportProducts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="products.csv"`)
	if err := a.service.ExportProductsCSV(r.Context(), w); err != nil {
		a.logger.Error("product export failed", zap.Error(err))
	}
}

func (a *API) handleImportProducts(w http.ResponseWriter, r *http.Request) {
	count, err := a.service.ImportProductsCSV(r.Context(), r.Body)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": count})
}

// ---- register ----

type addItemRequest struct {
	ProductID string `json:"product_id"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (a *API) handleRegisterState(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.RegisterState(r.Context())
	a.writeRegisterState(w, state, err)
}

func (a *API) handleNewSale(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.NewSale(r.Context())
	a.writeRegisterState(w, state, err)
}

func (a *API) handleSwitchSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := parseSaleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.SwitchSale(r.Context(), saleID)
	a.writeRegisterState(w, state, err)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := parseSaleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.DeleteSale(r.Context(), saleID)
	a.writeRegisterState(w, state, err)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.AddItem(r.Context(), req.ProductID)
	a.writeRegisterState(w, state, err)
}

func (a *API) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.SetQuantity(r.Context(), chi.URLParam(r, "productID"), req.Quantity)
	a.writeRegisterState(w, state, err)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.RemoveItem(r.Context(), chi.URLParam(r, "productID"))
	a.writeRegisterState(w, state, err)
}

func (a *API) handleSetNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.SetNotes(r.Context(), chi.URLParam(r, "productID"), req.Notes)
	a.writeRegisterState(w, state, err)
}

func (a *API) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.Discount
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.ApplyDiscount(r.Context(), req)
	a.writeRegisterState(w, state, err)
}

func (a *API) handleRemoveDiscount(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.RemoveDiscount(r.Context())
	a.writeRegisterState(w, state, err)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.CheckoutResponse{Order: order})
}

func (a *API) writeRegisterState(w http.ResponseWriter, state domain.RegisterState, err error) {
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func parseSaleID(r *http.Request) (int64, error) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		return 0, errors.New("sale id must be an integer")
	}
	return saleID, nil
}

// ---- orders ----

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListOrders(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleExportOrders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)
	if err := a.service.ExportOrdersCSV(r.Context(), w); err != nil {
		a.logger.Error("order export failed", zap.Error(err))
	}
}

// ---- stock ----

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
}

func (a *API) handleListStockLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	logs, err := a.service.ListStockLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// ---- reports ----

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.SalesReport(r.Context(), r.URL.Query().Get("period"), r.URL.Query().Get("branch_id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---- settings ----

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.Settings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ---- branches ----

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

// ---- users ----

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.UpdateUser(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// ---- helpers ----

// writeServiceError maps domain errors to HTTP statuses. Stock rejections
// include the available quantity so the register can tell the cashier how
// many units remain.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *store.StockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrValidation), errors.Is(err, pricing.ErrInvalidDiscount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	default:
		a.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 4xx messages are user-facing; 5xx bodies stay generic so internals
	// never leak to clients.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

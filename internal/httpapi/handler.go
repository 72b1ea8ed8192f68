package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"optiq/internal/models"
	"optiq/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	store store.Store
}

func NewHandler(store store.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/actions/reorder", h.handleReorder)
	mux.HandleFunc("/api/queue/actions/reset", h.handleReset)
	mux.HandleFunc("/api/queue/active", h.handleActiveCustomer)
	mux.HandleFunc("/api/queue/", h.handleQueueItem)
	mux.HandleFunc("/api/transactions", h.handleTransactions)
	mux.HandleFunc("/api/transactions/", h.handleTransactionItem)
	mux.HandleFunc("/api/notifications", h.handleNotifications)
	mux.HandleFunc("/api/notifications/", h.handleNotificationItem)
	return mux
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type enqueueRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Priority   bool   `json:"priority"`
	TTLSeconds int    `json:"notification_ttl_seconds"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleEnqueue(w, r)
	case http.MethodGet:
		h.handleListQueue(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	session, ok := requireRole(w, r, models.RoleSalesAgent, models.RoleAdmin)
	if !ok {
		return
	}

	var req enqueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if req.Phone != "" && !isValidPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return
	}

	customer, err := h.store.Enqueue(r.Context(), store.EnqueueInput{
		Name:      req.Name,
		Phone:     req.Phone,
		Priority:  req.Priority,
		CreatedBy: session.UserID,
		Role:      session.Role,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" {
		switch status {
		case models.StatusWaiting, models.StatusServing, models.StatusCompleted, models.StatusCancelled:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown status filter")
			return
		}
	}
	customers, err := h.store.ListQueue(r.Context(), status)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

type callRequest struct {
	CounterID string `json:"counter_id"`
	Force     bool   `json:"force"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleCashier, models.RoleAdmin); !ok {
		return
	}

	var req callRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.CounterID = strings.TrimSpace(req.CounterID)
	if req.CounterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "counter_id is required")
		return
	}

	result, err := h.store.CallNext(r.Context(), store.CallInput{
		CounterID: req.CounterID,
		Force:     req.Force,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reorderRequest struct {
	OrderedIDs []string `json:"ordered_ids"`
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}

	var req reorderRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.OrderedIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ordered_ids is required")
		return
	}
	for _, id := range req.OrderedIDs {
		if !isValidUUID(id) {
			writeError(w, http.StatusBadRequest, "invalid_request", "ordered_ids must be UUIDs")
			return
		}
	}

	if err := h.store.ReorderQueue(r.Context(), req.OrderedIDs); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Reason      string `json:"reason"`
	ToCompleted bool   `json:"to_completed"`
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}

	var req resetRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "queue reset"
	}

	result, err := h.store.ResetQueue(r.Context(), store.ResetInput{
		Reason:      req.Reason,
		ToCompleted: req.ToCompleted,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleActiveCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counterID := strings.TrimSpace(r.URL.Query().Get("counter_id"))
	if counterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "counter_id is required")
		return
	}
	customer, found, err := h.store.ActiveByCounter(r.Context(), counterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetCustomer(w, r, parts[0])
		return
	}

	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	customerID := parts[0]
	if !isValidUUID(customerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id must be a UUID")
		return
	}

	switch parts[2] {
	case "call":
		h.handleCallSpecific(w, r, customerID)
	case "complete":
		h.handleComplete(w, r, customerID)
	case "cancel":
		h.handleCancel(w, r, customerID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request, customerID string) {
	if !isValidUUID(customerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id must be a UUID")
		return
	}
	customer, err := h.store.GetCustomer(r.Context(), customerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleCallSpecific(w http.ResponseWriter, r *http.Request, customerID string) {
	if _, ok := requireRole(w, r, models.RoleCashier, models.RoleAdmin); !ok {
		return
	}

	var req callRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.CounterID = strings.TrimSpace(req.CounterID)
	if req.CounterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "counter_id is required")
		return
	}

	result, err := h.store.CallSpecific(r.Context(), store.CallInput{
		CustomerID: customerID,
		CounterID:  req.CounterID,
		Force:      req.Force,
		CalledAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, customerID string) {
	if _, ok := requireRole(w, r, models.RoleCashier, models.RoleAdmin); !ok {
		return
	}
	customer, err := h.store.CompleteService(r.Context(), customerID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, customerID string) {
	if _, ok := requireRole(w, r, models.RoleCashier, models.RoleAdmin); !ok {
		return
	}
	var req cancelRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "reason is required")
		return
	}
	customer, err := h.store.CancelService(r.Context(), customerID, req.Reason, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

type createTransactionRequest struct {
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleSalesAgent, models.RoleAdmin); !ok {
		return
	}

	var req createTransactionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if !isValidUUID(req.CustomerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id must be a UUID")
		return
	}

	transaction, err := h.store.CreateTransaction(r.Context(), store.CreateTransactionInput{
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, transaction)
}

type createSettlementRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Mode   string          `json:"mode"`
	Note   string          `json:"note"`
}

type settlementResponse struct {
	Settlement  models.Settlement  `json:"settlement"`
	Transaction models.Transaction `json:"transaction"`
}

func (h *Handler) handleTransactionItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	transactionID := parts[0]
	if !isValidUUID(transactionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "transaction_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTransaction(w, r, transactionID)
	case len(parts) == 2 && parts[1] == "settlements" && r.Method == http.MethodPost:
		h.handleCreateSettlement(w, r, transactionID)
	case len(parts) == 2 && parts[1] == "settlements" && r.Method == http.MethodGet:
		h.handleListSettlements(w, r, transactionID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	transaction, err := h.store.GetTransaction(r.Context(), transactionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, transaction)
}

func (h *Handler) handleCreateSettlement(w http.ResponseWriter, r *http.Request, transactionID string) {
	session, ok := requireRole(w, r, models.RoleCashier, models.RoleAdmin)
	if !ok {
		return
	}

	var req createSettlementRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Mode = strings.TrimSpace(req.Mode)
	if !models.ValidPaymentMode(req.Mode) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown payment mode")
		return
	}

	transaction, settlement, err := h.store.CreateSettlement(r.Context(), store.CreateSettlementInput{
		TransactionID: transactionID,
		Amount:        req.Amount,
		Mode:          req.Mode,
		CashierID:     session.UserID,
		Note:          strings.TrimSpace(req.Note),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, settlementResponse{
		Settlement:  settlement,
		Transaction: transaction,
	})
}

func (h *Handler) handleListSettlements(w http.ResponseWriter, r *http.Request, transactionID string) {
	settlements, err := h.store.ListSettlements(r.Context(), transactionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if settlements == nil {
		settlements = []models.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

type createNotificationRequest struct {
	Type       string                      `json:"type"`
	Title      string                      `json:"title"`
	Message    string                      `json:"message"`
	Snapshot   json.RawMessage             `json:"snapshot"`
	TargetRole string                      `json:"target_role"`
	TargetUser string                      `json:"target_user"`
	Actions    []models.NotificationAction `json:"actions"`
	TTLSeconds int                         `json:"ttl_seconds"`
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateNotification(w, r)
	case http.MethodGet:
		h.handleListNotifications(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req createNotificationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	req.Title = strings.TrimSpace(req.Title)
	if req.Type == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "type and title are required")
		return
	}

	notification, err := h.store.CreateNotification(r.Context(), store.CreateNotificationInput{
		Type:        req.Type,
		Title:       req.Title,
		Message:     strings.TrimSpace(req.Message),
		Snapshot:    req.Snapshot,
		CreatedBy:   session.UserID,
		CreatorRole: session.Role,
		TargetRole:  strings.TrimSpace(req.TargetRole),
		TargetUser:  strings.TrimSpace(req.TargetUser),
		Actions:     req.Actions,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, notification)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	includeRead := r.URL.Query().Get("include_read") == "true"
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	notifications, err := h.store.ListNotifications(r.Context(), store.ListNotificationsInput{
		Role:        session.Role,
		UserID:      session.UserID,
		IncludeRead: includeRead,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) handleNotificationItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 2 && parts[0] == "actions" && parts[1] == "sweep" {
		h.handleSweep(w, r)
		return
	}
	if len(parts) != 2 || parts[1] != "read" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	if !isValidUUID(parts[0]) {
		writeError(w, http.StatusBadRequest, "invalid_request", "notification_id must be a UUID")
		return
	}

	notification, err := h.store.MarkRead(r.Context(), parts[0], session.UserID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	swept, err := h.store.SweepExpired(r.Context(), time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrCustomerNotFound):
		return http.StatusNotFound, "customer_not_found", "customer not found"
	case errors.Is(err, store.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found", "transaction not found"
	case errors.Is(err, store.ErrNotificationNotFound):
		return http.StatusNotFound, "notification_not_found", "notification not found"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no waiting customers"
	case errors.Is(err, store.ErrCounterBusy):
		return http.StatusConflict, "counter_busy", "counter is already serving a customer"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "customer status does not allow this action"
	case errors.Is(err, store.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount", "amount must be positive"
	case errors.Is(err, store.ErrAmountExceedsBalance):
		return http.StatusConflict, "amount_exceeds_balance", "settlement exceeds the open balance"
	case errors.Is(err, store.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target", "exactly one of target_role or target_user is required"
	case errors.Is(err, store.ErrInvalidActionKind):
		return http.StatusBadRequest, "invalid_action_kind", "unknown notification action kind"
	case errors.Is(err, store.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict", "concurrent update, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

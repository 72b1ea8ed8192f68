package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"optiq/internal/models"
	"optiq/internal/store"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	enqueueFn          func(ctx context.Context, input store.EnqueueInput) (models.Customer, error)
	callNextFn         func(ctx context.Context, input store.CallInput) (store.CallResult, error)
	callSpecificFn     func(ctx context.Context, input store.CallInput) (store.CallResult, error)
	completeFn         func(ctx context.Context, customerID string, occurredAt time.Time) (models.Customer, error)
	cancelFn           func(ctx context.Context, customerID, reason string, occurredAt time.Time) (models.Customer, error)
	reorderFn          func(ctx context.Context, orderedIDs []string) error
	resetFn            func(ctx context.Context, input store.ResetInput) (store.ResetResult, error)
	getCustomerFn      func(ctx context.Context, customerID string) (models.Customer, error)
	listQueueFn        func(ctx context.Context, status string) ([]models.Customer, error)
	activeFn           func(ctx context.Context, counterID string) (models.Customer, bool, error)
	createTxFn         func(ctx context.Context, input store.CreateTransactionInput) (models.Transaction, error)
	getTxFn            func(ctx context.Context, transactionID string) (models.Transaction, error)
	createSettlementFn func(ctx context.Context, input store.CreateSettlementInput) (models.Transaction, models.Settlement, error)
	listSettlementsFn  func(ctx context.Context, transactionID string) ([]models.Settlement, error)
	createNotifFn      func(ctx context.Context, input store.CreateNotificationInput) (models.Notification, error)
	markReadFn         func(ctx context.Context, publicID, readerID string) (models.Notification, error)
	listNotifFn        func(ctx context.Context, input store.ListNotificationsInput) ([]models.Notification, error)
	sweepFn            func(ctx context.Context, now time.Time) (int, error)
	getSessionFn       func(ctx context.Context, sessionID string) (store.Session, error)
}

func (f fakeStore) Enqueue(ctx context.Context, input store.EnqueueInput) (models.Customer, error) {
	if f.enqueueFn == nil {
		return models.Customer{}, nil
	}
	return f.enqueueFn(ctx, input)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallInput) (store.CallResult, error) {
	if f.callNextFn == nil {
		return store.CallResult{}, nil
	}
	return f.callNextFn(ctx, input)
}

func (f fakeStore) CallSpecific(ctx context.Context, input store.CallInput) (store.CallResult, error) {
	if f.callSpecificFn == nil {
		return store.CallResult{}, nil
	}
	return f.callSpecificFn(ctx, input)
}

func (f fakeStore) CompleteService(ctx context.Context, customerID string, occurredAt time.Time) (models.Customer, error) {
	if f.completeFn == nil {
		return models.Customer{}, nil
	}
	return f.completeFn(ctx, customerID, occurredAt)
}

func (f fakeStore) CancelService(ctx context.Context, customerID, reason string, occurredAt time.Time) (models.Customer, error) {
	if f.cancelFn == nil {
		return models.Customer{}, nil
	}
	return f.cancelFn(ctx, customerID, reason, occurredAt)
}

func (f fakeStore) ReorderQueue(ctx context.Context, orderedIDs []string) error {
	if f.reorderFn == nil {
		return nil
	}
	return f.reorderFn(ctx, orderedIDs)
}

func (f fakeStore) ResetQueue(ctx context.Context, input store.ResetInput) (store.ResetResult, error) {
	if f.resetFn == nil {
		return store.ResetResult{}, nil
	}
	return f.resetFn(ctx, input)
}

func (f fakeStore) GetCustomer(ctx context.Context, customerID string) (models.Customer, error) {
	if f.getCustomerFn == nil {
		return models.Customer{}, nil
	}
	return f.getCustomerFn(ctx, customerID)
}

func (f fakeStore) ListQueue(ctx context.Context, status string) ([]models.Customer, error) {
	if f.listQueueFn == nil {
		return nil, nil
	}
	return f.listQueueFn(ctx, status)
}

func (f fakeStore) ActiveByCounter(ctx context.Context, counterID string) (models.Customer, bool, error) {
	if f.activeFn == nil {
		return models.Customer{}, false, nil
	}
	return f.activeFn(ctx, counterID)
}

func (f fakeStore) CreateTransaction(ctx context.Context, input store.CreateTransactionInput) (models.Transaction, error) {
	if f.createTxFn == nil {
		return models.Transaction{}, nil
	}
	return f.createTxFn(ctx, input)
}

func (f fakeStore) GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error) {
	if f.getTxFn == nil {
		return models.Transaction{}, nil
	}
	return f.getTxFn(ctx, transactionID)
}

func (f fakeStore) CreateSettlement(ctx context.Context, input store.CreateSettlementInput) (models.Transaction, models.Settlement, error) {
	if f.createSettlementFn == nil {
		return models.Transaction{}, models.Settlement{}, nil
	}
	return f.createSettlementFn(ctx, input)
}

func (f fakeStore) ListSettlements(ctx context.Context, transactionID string) ([]models.Settlement, error) {
	if f.listSettlementsFn == nil {
		return nil, nil
	}
	return f.listSettlementsFn(ctx, transactionID)
}

func (f fakeStore) CreateNotification(ctx context.Context, input store.CreateNotificationInput) (models.Notification, error) {
	if f.createNotifFn == nil {
		return models.Notification{}, nil
	}
	return f.createNotifFn(ctx, input)
}

func (f fakeStore) MarkRead(ctx context.Context, publicID, readerID string) (models.Notification, error) {
	if f.markReadFn == nil {
		return models.Notification{}, nil
	}
	return f.markReadFn(ctx, publicID, readerID)
}

func (f fakeStore) ListNotifications(ctx context.Context, input store.ListNotificationsInput) ([]models.Notification, error) {
	if f.listNotifFn == nil {
		return nil, nil
	}
	return f.listNotifFn(ctx, input)
}

func (f fakeStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if f.sweepFn == nil {
		return 0, nil
	}
	return f.sweepFn(ctx, now)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.getSessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.getSessionFn(ctx, sessionID)
}

func withSession(req *http.Request, userID, role string) *http.Request {
	session := store.Session{SessionID: "sess-1", UserID: userID, Role: role}
	return req.WithContext(context.WithValue(req.Context(), authContextKey{}, session))
}

func TestEnqueueSuccess(t *testing.T) {
	st := fakeStore{
		enqueueFn: func(ctx context.Context, input store.EnqueueInput) (models.Customer, error) {
			return models.Customer{
				CustomerID:  "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
				Name:        input.Name,
				TokenNumber: 7,
				Status:      models.StatusWaiting,
			}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]interface{}{"name": "Budi", "phone": "08123456789"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	req = withSession(req, "agent-1", models.RoleSalesAgent)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var customer models.Customer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if customer.TokenNumber != 7 || customer.Status != models.StatusWaiting {
		t.Fatalf("unexpected customer: %+v", customer)
	}
}

func TestEnqueueRequiresName(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]string{"phone": "08123456789"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	req = withSession(req, "agent-1", models.RoleSalesAgent)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestEnqueueRoleDenied(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]string{"name": "Budi"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestCallNextQueueEmpty(t *testing.T) {
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallInput) (store.CallResult, error) {
			return store.CallResult{}, store.ErrQueueEmpty
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"counter_id": "counter-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/actions/call-next", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.Code != "queue_empty" {
		t.Fatalf("expected code queue_empty, got %q", errResp.Error.Code)
	}
}

func TestCallNextCounterBusy(t *testing.T) {
	st := fakeStore{
		callNextFn: func(ctx context.Context, input store.CallInput) (store.CallResult, error) {
			if !input.Force {
				return store.CallResult{}, store.ErrCounterBusy
			}
			return store.CallResult{Customer: models.Customer{Status: models.StatusServing}}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"counter_id": "counter-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/actions/call-next", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	body, _ = json.Marshal(map[string]interface{}{"counter_id": "counter-1", "force": true})
	req = httptest.NewRequest(http.MethodPost, "/api/queue/actions/call-next", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 with force, got %d", resp.Code)
	}
}

func TestCompleteInvalidTransition(t *testing.T) {
	st := fakeStore{
		completeFn: func(ctx context.Context, customerID string, occurredAt time.Time) (models.Customer, error) {
			return models.Customer{}, store.ErrInvalidTransition
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/complete", bytes.NewReader([]byte(`{}`)))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error.Code != "invalid_transition" {
		t.Fatalf("expected code invalid_transition, got %q", errResp.Error.Code)
	}
}

func TestCancelRequiresReason(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/queue/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/cancel", bytes.NewReader([]byte(`{}`)))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestResetAdminOnly(t *testing.T) {
	called := false
	st := fakeStore{
		resetFn: func(ctx context.Context, input store.ResetInput) (store.ResetResult, error) {
			called = true
			return store.ResetResult{Cancelled: 3, Completed: 1}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/actions/reset", bytes.NewReader([]byte(`{}`)))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for cashier, got %d", resp.Code)
	}
	if called {
		t.Fatal("reset must not run for a cashier")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/queue/actions/reset", bytes.NewReader([]byte(`{}`)))
	req = withSession(req, "admin-1", models.RoleAdmin)
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for admin, got %d", resp.Code)
	}
	var result store.ResetResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Cancelled != 3 || result.Completed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReorderRejectsNonUUID(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string][]string{"ordered_ids": {"not-a-uuid"}})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/actions/reorder", bytes.NewReader(body))
	req = withSession(req, "admin-1", models.RoleAdmin)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateSettlementSuccess(t *testing.T) {
	var got store.CreateSettlementInput
	st := fakeStore{
		createSettlementFn: func(ctx context.Context, input store.CreateSettlementInput) (models.Transaction, models.Settlement, error) {
			got = input
			return models.Transaction{
					TransactionID: input.TransactionID,
					Amount:        decimal.NewFromInt(1000),
					PaidAmount:    decimal.NewFromInt(500),
					PaymentStatus: models.PaymentPartial,
				}, models.Settlement{
					SettlementID:  "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb",
					TransactionID: input.TransactionID,
					Amount:        input.Amount,
					Mode:          input.Mode,
				}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]interface{}{"amount": "500", "mode": models.ModeCash})
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/settlements", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if got.CashierID != "cashier-1" {
		t.Fatalf("cashier id should come from the session, got %q", got.CashierID)
	}
	if !got.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected amount: %s", got.Amount)
	}

	var response settlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Transaction.PaymentStatus != models.PaymentPartial {
		t.Fatalf("unexpected payment status: %q", response.Transaction.PaymentStatus)
	}
}

func TestCreateSettlementExceedsBalance(t *testing.T) {
	st := fakeStore{
		createSettlementFn: func(ctx context.Context, input store.CreateSettlementInput) (models.Transaction, models.Settlement, error) {
			return models.Transaction{}, models.Settlement{}, store.ErrAmountExceedsBalance
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]interface{}{"amount": "5000", "mode": models.ModeCash})
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/settlements", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error.Code != "amount_exceeds_balance" {
		t.Fatalf("expected code amount_exceeds_balance, got %q", errResp.Error.Code)
	}
}

func TestCreateSettlementUnknownMode(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]interface{}{"amount": "500", "mode": "barter"})
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/settlements", bytes.NewReader(body))
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestListNotificationsUsesSessionIdentity(t *testing.T) {
	var got store.ListNotificationsInput
	st := fakeStore{
		listNotifFn: func(ctx context.Context, input store.ListNotificationsInput) ([]models.Notification, error) {
			got = input
			return nil, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?include_read=true&limit=10", nil)
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got.Role != models.RoleCashier || got.UserID != "cashier-1" {
		t.Fatalf("identity should come from the session: %+v", got)
	}
	if !got.IncludeRead || got.Limit != 10 {
		t.Fatalf("query params not applied: %+v", got)
	}

	var notifications []models.Notification
	if err := json.NewDecoder(resp.Body).Decode(&notifications); err != nil {
		t.Fatalf("empty list should encode as JSON array: %v", err)
	}
}

func TestMarkReadNotFound(t *testing.T) {
	st := fakeStore{
		markReadFn: func(ctx context.Context, publicID, readerID string) (models.Notification, error) {
			return models.Notification{}, store.ErrNotificationNotFound
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/read", nil)
	req = withSession(req, "cashier-1", models.RoleCashier)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestAuthMiddlewareRejectsMissingSession(t *testing.T) {
	handler := AuthMiddleware(fakeStore{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthMiddlewareResolvesSession(t *testing.T) {
	st := fakeStore{
		getSessionFn: func(ctx context.Context, sessionID string) (store.Session, error) {
			if sessionID != "token-1" {
				return store.Session{}, store.ErrSessionNotFound
			}
			return store.Session{SessionID: sessionID, UserID: "user-1", Role: models.RoleAdmin}, nil
		},
	}

	var seen store.Session
	handler := AuthMiddleware(st, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = sessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if seen.UserID != "user-1" || seen.Role != models.RoleAdmin {
		t.Fatalf("session not propagated: %+v", seen)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	h := NewHandler(fakeStore{})
	handler := AuthMiddleware(fakeStore{}, h.Routes())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

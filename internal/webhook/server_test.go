package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkamenev/clubgate-bot/store"
	"github.com/mkamenev/clubgate-bot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const notifyPath = "/payment/notify"

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("user blocked the bot")
	}
	f.calls = append(f.calls, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePending struct {
	mu      sync.Mutex
	deleted []int64
}

func (f *fakePending) SavePending(userID int64, p *types.PendingPurchase) error { return nil }
func (f *fakePending) GetPending(userID int64) (*types.PendingPurchase, error) { return nil, nil }
func (f *fakePending) DeletePending(userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, userID)
	return nil
}

func newTestServer(t *testing.T) (*store.MemoryStore, *fakeNotifier, *fakePending, http.Handler) {
	t.Helper()
	ledger := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	pending := &fakePending{}
	srv := NewServer(ledger, notifier, pending, zap.NewNop().Sugar())
	return ledger, notifier, pending, srv.Router(notifyPath)
}

func post(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, notifyPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestNotifyMalformedJSON(t *testing.T) {
	_, notifier, _, handler := newTestServer(t)

	w := post(t, handler, `{"PaymentId": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, notifier.count())
}

func TestNotifyMissingPaymentID(t *testing.T) {
	_, _, _, handler := newTestServer(t)

	w := post(t, handler, `{"Status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, handler, `{"PaymentId":"  ","Status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifyUnknownPaymentAcknowledged(t *testing.T) {
	ledger, notifier, _, handler := newTestServer(t)

	w := post(t, handler, `{"PaymentId":"X","Status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, notifier.count())

	// The status is persisted standalone, no user row involved.
	p, err := ledger.GetPaymentByID("X")
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", p.Status)
	assert.Nil(t, p.UserID)
}

func TestNotifyConfirmedExactlyOnce(t *testing.T) {
	ledger, notifier, pending, handler := newTestServer(t)

	now := time.Now().UTC()
	_, err := ledger.RegisterUser(7, "", now, 3, false, true, false)
	require.NoError(t, err)
	require.NoError(t, ledger.RecordPayment("p1", 7, 2, 100000))

	baseline, err := ledger.GetUser(7)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w := post(t, handler, `{"PaymentId":"p1","Status":"CONFIRMED"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	u, err := ledger.GetUser(7)
	require.NoError(t, err)
	assert.WithinDuration(t, baseline.ExpiresAt.Add(2*types.SubscriptionDuration), u.ExpiresAt, 2*time.Second)
	assert.False(t, u.PaidOnly)

	assert.Equal(t, 1, notifier.count(), "user notified once despite duplicate deliveries")
	assert.Equal(t, []int64{7}, pending.deleted)
}

func TestNotifyRejectedNoSideEffect(t *testing.T) {
	ledger, notifier, pending, handler := newTestServer(t)

	now := time.Now().UTC()
	_, err := ledger.RegisterUser(7, "", now, 3, false, false, false)
	require.NoError(t, err)
	require.NoError(t, ledger.RecordPayment("p1", 7, 1, 50000))

	before, err := ledger.GetUser(7)
	require.NoError(t, err)

	w := post(t, handler, `{"PaymentId":"p1","Status":"REJECTED"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, notifier.count())

	after, err := ledger.GetUser(7)
	require.NoError(t, err)
	assert.Equal(t, before.ExpiresAt, after.ExpiresAt)

	p, err := ledger.GetPaymentByID("p1")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", p.Status)

	// The dead checkout must not keep serving its URL after a decline.
	assert.Equal(t, []int64{7}, pending.deleted)
}

func TestNotifyNumericPaymentID(t *testing.T) {
	ledger, notifier, _, handler := newTestServer(t)

	now := time.Now().UTC()
	_, err := ledger.RegisterUser(7, "", now, 3, false, false, false)
	require.NoError(t, err)
	require.NoError(t, ledger.RecordPayment("4108200199", 7, 1, 50000))

	w := post(t, handler, `{"PaymentId":4108200199,"Status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, notifier.count())

	p, err := ledger.GetPaymentByID("4108200199")
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", p.Status)
}

func TestRouterKeepsGinMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, _, _, _ = newTestServer(t)
	assert.Equal(t, gin.TestMode, gin.Mode())
}

func TestNotifyDeliveryFailureDoesNotChangeResponse(t *testing.T) {
	ledger, notifier, _, handler := newTestServer(t)
	notifier.fail = true

	now := time.Now().UTC()
	_, err := ledger.RegisterUser(7, "", now, 3, false, false, false)
	require.NoError(t, err)
	require.NoError(t, ledger.RecordPayment("p1", 7, 1, 50000))

	w := post(t, handler, `{"PaymentId":"p1","Status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// The ledger mutation stays committed.
	u, err := ledger.GetUser(7)
	require.NoError(t, err)
	assert.True(t, u.ExpiresAt.After(now.Add(types.SubscriptionDuration-time.Hour)))
}

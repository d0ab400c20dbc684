package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkamenev/clubgate-bot/store"
	"github.com/mkamenev/clubgate-bot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testChannelID int64 = -100123

type fakeNotifier struct {
	mu      sync.Mutex
	texts   map[int64][]string
	failFor map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{texts: make(map[int64][]string), failFor: make(map[int64]bool)}
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[userID] {
		return errors.New("delivery failed")
	}
	f.texts[userID] = append(f.texts[userID], text)
	return nil
}

type fakeMembership struct {
	mu       sync.Mutex
	revoked  []int64
	restored []int64
	fail     bool
}

func (f *fakeMembership) RevokeAccess(ctx context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("not a channel member")
	}
	f.revoked = append(f.revoked, userID)
	return nil
}

func (f *fakeMembership) RestoreEligibility(ctx context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("not a channel member")
	}
	f.restored = append(f.restored, userID)
	return nil
}

func newTestSweeper(ledger types.LedgerStore, notifier types.Notifier, membership types.Membership) *Sweeper {
	return NewSweeper(ledger, notifier, membership, zap.NewNop().Sugar(), Config{
		ChannelID: testChannelID,
		Hour:      12,
	})
}

func TestSweepAutoRenew(t *testing.T) {
	ledger := store.NewMemoryStore()
	notifier := newFakeNotifier()
	membership := &fakeMembership{}
	s := newTestSweeper(ledger, notifier, membership)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := ledger.RegisterUser(1, "", now.Add(-31*24*time.Hour), 30, true, false, false)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(context.Background(), now))

	u, err := ledger.GetUser(1)
	require.NoError(t, err)
	// Lapsed subscription: renewal runs 30 days from now.
	assert.Equal(t, now.Add(types.SubscriptionDuration), u.ExpiresAt)
	assert.Len(t, notifier.texts[1], 1)
	assert.Empty(t, membership.revoked)

	// An immediate second pass finds nothing: the user left the
	// expired set.
	require.NoError(t, s.Sweep(context.Background(), now))
	u2, err := ledger.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, u.ExpiresAt, u2.ExpiresAt)
	assert.Len(t, notifier.texts[1], 1)
}

func TestSweepRevoke(t *testing.T) {
	ledger := store.NewMemoryStore()
	notifier := newFakeNotifier()
	membership := &fakeMembership{}
	s := newTestSweeper(ledger, notifier, membership)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := ledger.RegisterUser(2, "", now.Add(-2*24*time.Hour), 1, false, false, false)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(context.Background(), now))

	assert.Equal(t, []int64{2}, membership.revoked)
	// The ban is lifted right after the kick so the user can come back
	// after paying again.
	assert.Equal(t, []int64{2}, membership.restored)
	assert.Len(t, notifier.texts[2], 1)

	// The row survives revocation; only flags and dates gate access.
	u, err := ledger.GetUser(2)
	require.NoError(t, err)
	assert.True(t, u.ExpiresAt.Before(now))
}

func TestSweepSkipsBypass(t *testing.T) {
	ledger := store.NewMemoryStore()
	notifier := newFakeNotifier()
	membership := &fakeMembership{}
	s := newTestSweeper(ledger, notifier, membership)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := ledger.RegisterUser(3, "", now.Add(-2*24*time.Hour), 1, false, false, true)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(context.Background(), now))

	assert.Empty(t, membership.revoked)
	assert.Empty(t, notifier.texts[3])
}

func TestSweepContinuesAfterDeliveryFailure(t *testing.T) {
	ledger := store.NewMemoryStore()
	notifier := newFakeNotifier()
	notifier.failFor[1] = true
	membership := &fakeMembership{fail: true}
	s := newTestSweeper(ledger, notifier, membership)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := ledger.RegisterUser(1, "", now.Add(-2*24*time.Hour), 1, true, false, false)
	require.NoError(t, err)
	_, err = ledger.RegisterUser(2, "", now.Add(-2*24*time.Hour), 1, false, false, false)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(context.Background(), now))

	// User 1's notification failed, but the renewal still applied and
	// user 2 was still processed.
	u1, err := ledger.GetUser(1)
	require.NoError(t, err)
	assert.Equal(t, now.Add(types.SubscriptionDuration), u1.ExpiresAt)
	assert.Len(t, notifier.texts[2], 1)
}

func TestStartStopIdempotent(t *testing.T) {
	ledger := store.NewMemoryStore()
	s := newTestSweeper(ledger, newFakeNotifier(), &fakeMembership{})

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestNextRunAfter(t *testing.T) {
	loc := time.UTC
	morning := time.Date(2025, 6, 1, 9, 0, 0, 0, loc)
	evening := time.Date(2025, 6, 1, 13, 30, 0, 0, loc)
	exactly := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, loc), nextRunAfter(morning, 12))
	assert.Equal(t, time.Date(2025, 6, 2, 12, 0, 0, 0, loc), nextRunAfter(evening, 12))
	assert.Equal(t, time.Date(2025, 6, 2, 12, 0, 0, 0, loc), nextRunAfter(exactly, 12))
}

func TestNextRunAfterKeepsHourAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Clocks jump forward on 2025-03-09; the run stays at 12:00 wall
	// time rather than sliding to 13:00.
	beforeSpring := time.Date(2025, 3, 8, 13, 0, 0, 0, loc)
	next := nextRunAfter(beforeSpring, 12)
	assert.Equal(t, 12, next.Hour())
	assert.Equal(t, 9, next.Day())

	// Clocks fall back on 2025-11-02.
	beforeFall := time.Date(2025, 11, 1, 13, 0, 0, 0, loc)
	next = nextRunAfter(beforeFall, 12)
	assert.Equal(t, 12, next.Hour())
	assert.Equal(t, 2, next.Day())
}

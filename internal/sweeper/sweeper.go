package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/mkamenev/clubgate-bot/internal/messages"
	"github.com/mkamenev/clubgate-bot/types"
	"go.uber.org/zap"
)

// Sweeper enforces subscription expiry once a day at the configured
// local hour. Expired users are either auto-renewed or removed from
// the channel; every per-user action is best-effort and one failure
// never stops the pass.
type Sweeper struct {
	ledger     types.LedgerStore
	notifier   types.Notifier
	membership types.Membership
	channelID  int64
	hour       int
	loc        *time.Location
	log        *zap.SugaredLogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type Config struct {
	ChannelID int64
	Hour      int
	Location  *time.Location
}

func NewSweeper(ledger types.LedgerStore, notifier types.Notifier, membership types.Membership, log *zap.SugaredLogger, config Config) *Sweeper {
	if config.Location == nil {
		config.Location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ledger:     ledger,
		notifier:   notifier,
		membership: membership,
		channelID:  config.ChannelID,
		hour:       config.Hour,
		loc:        config.Location,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Infof("sweeper started, daily at %02d:00 %s", s.hour, s.loc)

	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Infof("sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := nextRunAfter(time.Now().In(s.loc), s.hour)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.Sweep(s.ctx, time.Now().UTC()); err != nil {
				s.log.Errorf("sweep failed: %v", err)
			}
		}
	}
}

// nextRunAfter returns the next wall-clock occurrence of hour after t.
// Built from date components, not a 24h add, so the hour stays fixed
// across DST transitions in t's zone.
func nextRunAfter(t time.Time, hour int) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, hour, 0, 0, 0, t.Location())
	}
	return next
}

// Sweep processes every user whose subscription lapsed before now.
// Re-running it immediately is harmless: renewed users have moved out
// of the expired set.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	users, err := s.ledger.ListExpired(now)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	s.log.Infof("sweep: %d expired users", len(users))

	renewed := 0
	revoked := 0
	for _, u := range users {
		if u.AutoRenew {
			newExpiry, err := s.ledger.ExtendSubscription(u.UserID, 1, now)
			if err != nil {
				s.log.Errorf("sweep: renew user %d: %v", u.UserID, err)
				continue
			}
			renewed++
			if err := s.notifier.Notify(ctx, u.UserID, messages.RenewalNotice(newExpiry)); err != nil {
				s.log.Warnf("sweep: notify renewal to user %d: %v", u.UserID, err)
			}
			continue
		}

		if err := s.membership.RevokeAccess(ctx, s.channelID, u.UserID); err != nil {
			s.log.Warnf("sweep: revoke access for user %d: %v", u.UserID, err)
		}
		// Lift the ban right away so a future paid re-entry works.
		if err := s.membership.RestoreEligibility(ctx, s.channelID, u.UserID); err != nil {
			s.log.Warnf("sweep: restore eligibility for user %d: %v", u.UserID, err)
		}
		revoked++
		if err := s.notifier.Notify(ctx, u.UserID, messages.AccessLapsed()); err != nil {
			s.log.Warnf("sweep: notify lapse to user %d: %v", u.UserID, err)
		}
	}

	s.log.Infof("sweep done: renewed=%d revoked=%d", renewed, revoked)
	return nil
}

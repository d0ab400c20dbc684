package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkamenev/clubgate-bot/internal/messages"
	"github.com/mkamenev/clubgate-bot/types"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 * 1024

// notification is the gateway's status push. Any extra fields are
// ignored; only PaymentId and Status drive reconciliation.
type notification struct {
	PaymentID paymentID `json:"PaymentId"`
	Status    string    `json:"Status"`
}

// paymentID tolerates both encodings the gateway uses: responses carry
// PaymentId as a JSON number, notifications may quote it.
type paymentID string

func (p *paymentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = paymentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = paymentID(n.String())
	return nil
}

// Server reconciles gateway notifications against the ledger. It is
// stateless: every delivery is mapped onto one ApplySettlement call,
// and the extension side effect is guarded inside the store, so
// duplicate deliveries of the same confirmation are acknowledged
// without effect.
type Server struct {
	ledger   types.LedgerStore
	notifier types.Notifier
	pending  types.PendingStore
	log      *zap.SugaredLogger
}

func NewServer(ledger types.LedgerStore, notifier types.Notifier, pending types.PendingStore, log *zap.SugaredLogger) *Server {
	return &Server{
		ledger:   ledger,
		notifier: notifier,
		pending:  pending,
		log:      log,
	}
}

// Router builds the gin engine with the notify endpoint mounted at
// path. The gin mode is the caller's to set.
func (s *Server) Router(path string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST(path, s.handleNotify)
	return r
}

func (s *Server) handleNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Warnf("webhook: malformed body: %v", err)
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	id := strings.TrimSpace(string(n.PaymentID))
	if id == "" {
		s.log.Warnf("webhook: missing PaymentId")
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	res, err := s.ledger.ApplySettlement(id, n.Status, time.Now().UTC())
	if err != nil {
		s.log.Errorf("webhook: settlement for payment %s: %v", id, err)
		c.String(http.StatusInternalServerError, "error")
		return
	}

	if !res.Known {
		s.log.Warnf("webhook: unknown payment %s, recorded status %q", id, n.Status)
		c.String(http.StatusOK, "OK")
		return
	}

	if res.Payment.UserID != nil {
		userID := *res.Payment.UserID
		// A terminal status ends the checkout whether or not it paid;
		// a rejected payment must not keep serving its stale URL.
		if types.TerminalStatus(res.Payment.Status) {
			if err := s.pending.DeletePending(userID); err != nil {
				s.log.Warnf("webhook: clear pending purchase for user %d: %v", userID, err)
			}
		}
		// The ledger mutation is committed; notification delivery is
		// best-effort and never changes the response.
		if res.Extended {
			if err := s.notifier.Notify(c.Request.Context(), userID, messages.PaymentConfirmed(res.NewExpiry)); err != nil {
				s.log.Warnf("webhook: notify user %d: %v", userID, err)
			}
		}
	}

	c.String(http.StatusOK, "OK")
}

package dashboard

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/sync"
	"github.com/diamondlog/syncd/internal/trigger"
)

// SyncPassData describes a finished pass.
type SyncPassData struct {
	AccountID string            `json:"account_id"`
	Reason    string            `json:"reason"`
	Succeeded bool              `json:"succeeded"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Totals    sync.KindReport   `json:"totals"`
	Kinds     []sync.KindReport `json:"kinds,omitempty"`
	Failures  int               `json:"failures"`
	Malformed int               `json:"malformed"`
	Streak    int               `json:"streak"`
}

// AccountResetData names the account now signed in.
type AccountResetData struct {
	AccountID string `json:"account_id"`
}

// NotSyncingData reports a failure streak.
type NotSyncingData struct {
	AccountID string `json:"account_id"`
	Streak    int    `json:"streak"`
	Error     string `json:"error,omitempty"`
}

// StatusData is the per-kind state of the local store.
type StatusData struct {
	AccountID string             `json:"account_id"`
	Kinds     []store.KindStatus `json:"kinds"`
}

// StatusSource reports local store state. *store.Store implements it.
type StatusSource interface {
	Status(ctx context.Context, accountID string) ([]store.KindStatus, error)
}

// Handler turns trigger events into dashboard messages.
type Handler struct {
	server  *Server
	status  StatusSource
	account func() string
	logger  zerolog.Logger
}

// NewHandler connects server to the local store status. account returns the
// signed-in account.
func NewHandler(server *Server, status StatusSource, account func() string, logger zerolog.Logger) *Handler {
	h := &Handler{server: server, status: status, account: account, logger: logger}
	server.welcome = h.statusMessage
	return h
}

// Follow broadcasts every event until ctx is cancelled or events closes.
func (h *Handler) Follow(ctx context.Context, events <-chan trigger.PassEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.OnEvent(ev)
		}
	}
}

// OnEvent broadcasts the messages for one event.
func (h *Handler) OnEvent(ev trigger.PassEvent) {
	switch ev.Type {
	case trigger.EventAccountReset:
		h.send(MessageTypeAccountReset, ev.At, AccountResetData{AccountID: ev.AccountID})
		return
	case trigger.EventPass:
	default:
		return
	}

	data := SyncPassData{
		AccountID: ev.AccountID,
		Reason:    string(ev.Reason),
		Succeeded: ev.Err == nil,
		Streak:    ev.Streak,
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}
	if r := ev.Report; r != nil {
		data.Duration = r.Duration()
		data.Totals = r.Totals()
		data.Kinds = r.Kinds
		data.Failures = len(r.Failures)
		data.Malformed = len(r.Malformed)
	}
	h.send(MessageTypeSyncPass, ev.At, data)

	if ev.NotSyncing {
		h.send(MessageTypeNotSyncing, ev.At, NotSyncingData{
			AccountID: ev.AccountID,
			Streak:    ev.Streak,
			Error:     data.Error,
		})
	}
}

func (h *Handler) send(t MessageType, at time.Time, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(t)).Msg("failed to marshal message data")
		return
	}
	h.server.Broadcast(Message{Type: t, Timestamp: at, Data: raw})
}

func (h *Handler) statusMessage(ctx context.Context) (Message, error) {
	accountID := h.account()
	kinds, err := h.status.Status(ctx, accountID)
	if err != nil {
		return Message{}, err
	}
	raw, err := json.Marshal(StatusData{AccountID: accountID, Kinds: kinds})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: raw}, nil
}

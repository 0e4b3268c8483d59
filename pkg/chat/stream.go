// Package chat maintains the materialized message list: a local,
// fully-derived, disposable copy of the remote message collection,
// replaced wholesale on every snapshot and ordered by the store's
// timestamps. The store's ordering is authoritative; this package
// never reorders by local arrival time.
package chat

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rownak/pkg/logger"
	"rownak/pkg/models"
	"rownak/pkg/ratelimit"
	"rownak/pkg/store"
)

var messagesSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rownak_messages_sent_total",
	Help: "Messages pushed to the store by this client.",
})

// ErrSendRateLimited is returned when the local send limiter rejects a
// message; the text is safe to show to the user.
var ErrSendRateLimited = errors.New("you are sending messages too quickly")

// ChangeFn receives the replaced message list. scrollToNewest asks the
// view to jump to the latest entry; it is suppressed while a reply is
// being composed so the reply banner keeps focus.
type ChangeFn func(msgs []models.Message, scrollToNewest bool)

// Stream subscribes to the message collection and exposes send and
// reply-context operations.
type Stream struct {
	st       store.Client
	onChange ChangeFn
	onFocus  func()
	lim      *ratelimit.Pool

	mu      sync.Mutex
	self    models.Identity
	msgs    []models.Message
	replyTo *models.Message
	sub     store.Subscription
}

// NewStream builds a stream for the signed-in identity. onChange and
// onFocus may be nil.
func NewStream(st store.Client, self models.Identity, onChange ChangeFn, onFocus func(), lim *ratelimit.Pool) *Stream {
	if lim == nil {
		lim = ratelimit.NewPool(0, 0)
	}
	return &Stream{st: st, self: self, onChange: onChange, onFocus: onFocus, lim: lim}
}

// Start attaches the ordered subscription. The first callback fires
// with the current history: the whole collection is loaded eagerly.
func (s *Stream) Start(ctx context.Context) error {
	sub, err := s.st.Subscribe("messages", s.apply)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// apply materializes a snapshot: decode, attach child keys as ids,
// sort ascending by server timestamp and replace the list.
func (s *Stream) apply(v store.Value) {
	var list []models.Message
	if v != nil {
		raw := map[string]models.Message{}
		if err := store.Decode(v, &raw); err != nil {
			logger.Error("message_snapshot_decode_failed", "error", err)
			return
		}
		list = make([]models.Message, 0, len(raw))
		for id, m := range raw {
			m.ID = id
			list = append(list, m)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Timestamp != list[j].Timestamp {
				return list[i].Timestamp < list[j].Timestamp
			}
			// Push ids sort by creation order; they break timestamp
			// ties deterministically across clients.
			return list[i].ID < list[j].ID
		})
	}
	s.mu.Lock()
	s.msgs = list
	fn := s.onChange
	scroll := s.replyTo == nil
	snap := append([]models.Message(nil), list...)
	s.mu.Unlock()
	if fn != nil {
		fn(snap, scroll)
	}
}

// Messages returns the current materialized list.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.msgs...)
}

// Lookup finds a message by id in the materialized list. Reply links
// are unvalidated back-references, so a miss is a normal outcome, not
// an error.
func (s *Stream) Lookup(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Send pushes a message. The store assigns the id and the timestamp;
// any pending reply context is embedded as a denormalized snapshot and
// cleared afterwards.
func (s *Stream) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	self := s.self
	reply := s.replyTo
	s.mu.Unlock()
	if self.Email == "" {
		return errors.New("chat: no signed-in identity")
	}
	if !s.lim.Allow(self.UID) {
		return ErrSendRateLimited
	}

	msg := map[string]any{
		"text":       text,
		"sender":     self.Email,
		"uid":        self.UID,
		"senderName": self.Name(),
		"timestamp":  store.ServerTimestamp(),
	}
	if self.AvatarURL != "" {
		msg["senderPhotoURL"] = self.AvatarURL
	}
	if reply != nil {
		msg["replyTo"] = reply.ID
		msg["replyToText"] = reply.Text
		snapName := reply.SenderName
		if snapName == "" {
			id := models.Identity{Email: reply.Sender}
			snapName = id.Name()
		}
		msg["replyToSender"] = snapName
	}

	id, err := s.st.Push(ctx, "messages", msg)
	if err != nil {
		logger.Error("message_send_failed", "error", err)
		return err
	}
	messagesSent.Inc()
	logger.Debug("message_sent", "id", id, "reply_to", msg["replyTo"])

	s.mu.Lock()
	s.replyTo = nil
	s.mu.Unlock()
	return nil
}

// BeginReply captures the reply target for the next send and requests
// input focus.
func (s *Stream) BeginReply(m models.Message) {
	s.mu.Lock()
	cp := m
	s.replyTo = &cp
	fn := s.onFocus
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// CancelReply clears any pending reply context.
func (s *Stream) CancelReply() {
	s.mu.Lock()
	s.replyTo = nil
	s.mu.Unlock()
}

// ReplyTarget returns the pending reply target, if any.
func (s *Stream) ReplyTarget() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replyTo == nil {
		return models.Message{}, false
	}
	return *s.replyTo, true
}

// SetIdentity swaps the sender identity after a profile update; the
// subscription keeps running.
func (s *Stream) SetIdentity(self models.Identity) {
	s.mu.Lock()
	s.self = self
	s.mu.Unlock()
}

// Stop releases the subscription and drops the materialized list.
func (s *Stream) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.msgs = nil
	s.replyTo = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

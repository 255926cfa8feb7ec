// Package chat routes text messages over lobby, room, and team channels,
// with per-user rate limiting, a content filter, and a short replayable
// history per channel.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/gateway"
	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
	"github.com/partyhub/server/internal/v1/protocol"
)

const (
	// MaxMessageLength bounds one chat message's text.
	MaxMessageLength = 500

	// historySize is the per-channel replay ring depth.
	historySize = 100
)

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrRateLimited    = errors.New("sending too fast")
	ErrBadChannel     = errors.New("no access to channel")
)

// Message is one stored and delivered chat entry.
type Message struct {
	MessageID   string `json:"message_id"`
	Channel     string `json:"channel"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
	SentAt      int64  `json:"sent_at"`
}

// Membership answers whether a user may post to a channel. The server
// wiring backs it with the room manager.
type Membership interface {
	CanAccess(userID, channel string) bool
}

// Service is the chat router.
type Service struct {
	mu      sync.Mutex
	history map[string][]Message

	limiter    *limiter.Limiter
	filter     Filter
	membership Membership
	registry   *gateway.Registry
}

// NewService builds a chat service. rate uses limiter notation ("10-M"
// is ten per minute); a bad rate string falls back to 10-M.
func NewService(rate string, filter Filter, membership Membership, registry *gateway.Registry) *Service {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		logging.Warn(context.Background(), "bad chat rate limit, using default",
			zap.String("rate", rate), zap.Error(err))
		parsed, _ = limiter.NewRateFromFormatted("10-M")
	}

	return &Service{
		history:    make(map[string][]Message),
		limiter:    limiter.New(memory.NewStore(), parsed),
		filter:     filter,
		membership: membership,
		registry:   registry,
	}
}

// Send validates, filters, stores, and fans out one message.
func (s *Service) Send(ctx context.Context, userID, displayName, channel, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ChatMessages.WithLabelValues("empty").Inc()
		return nil, ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		metrics.ChatMessages.WithLabelValues("too_long").Inc()
		return nil, ErrMessageTooLong
	}
	if channel == "" {
		channel = "lobby"
	}
	if !s.membership.CanAccess(userID, channel) {
		metrics.ChatMessages.WithLabelValues("denied").Inc()
		return nil, ErrBadChannel
	}

	limitCtx, err := s.limiter.Get(ctx, "chat:"+userID)
	if err != nil {
		return nil, err
	}
	if limitCtx.Reached {
		metrics.ChatMessages.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	msg := Message{
		MessageID:   uuid.NewString(),
		Channel:     channel,
		UserID:      userID,
		DisplayName: displayName,
		Content:     s.filter.Clean(text),
		SentAt:      time.Now().UnixMilli(),
	}

	s.mu.Lock()
	ring := append(s.history[channel], msg)
	if len(ring) > historySize {
		ring = ring[len(ring)-historySize:]
	}
	s.history[channel] = ring
	s.mu.Unlock()

	s.registry.SendToChannel(channel, protocol.NewOutbound(protocol.TypeChatMessage, map[string]any{
		"message_id":   msg.MessageID,
		"channel":      msg.Channel,
		"user_id":      msg.UserID,
		"display_name": msg.DisplayName,
		"content":      msg.Content,
		"sent_at":      msg.SentAt,
	}))

	metrics.ChatMessages.WithLabelValues("delivered").Inc()
	return &msg, nil
}

// History returns the channel's stored messages, oldest first.
func (s *Service) History(channel string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history[channel]...)
}

// ReplayTo sends the channel's history to one session, oldest first.
// Called when a session subscribes to a channel.
func (s *Service) ReplayTo(sess *gateway.Session, channel string) {
	for _, msg := range s.History(channel) {
		out := protocol.NewOutbound(protocol.TypeChatMessage, map[string]any{
			"message_id":   msg.MessageID,
			"channel":      msg.Channel,
			"user_id":      msg.UserID,
			"display_name": msg.DisplayName,
			"content":      msg.Content,
			"sent_at":      msg.SentAt,
			"replayed":     true,
		})
		if data, err := out.Marshal(); err == nil {
			sess.SendRaw(data)
		}
	}
}

// DropChannel discards a channel's history, typically when its room closes.
func (s *Service) DropChannel(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, channel)
}

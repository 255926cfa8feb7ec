package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
	"github.com/partyhub/server/internal/v1/protocol"
)

// HandlerFunc processes one inbound envelope for one session. Handlers
// run on the session's read loop, so messages from the same session are
// processed strictly in arrival order.
type HandlerFunc func(ctx context.Context, s *Session, env *protocol.Envelope)

// Router parses inbound frames and dispatches them by envelope type.
// Everything except the public types requires an authenticated session.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// publicTypes may be sent before login.
var publicTypes = map[string]bool{
	protocol.TypeHeartbeat:  true,
	protocol.TypeLogin:      true,
	protocol.TypeTokenLogin: true,
	protocol.TypeRegister:   true,
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers the handler for an envelope type.
func (r *Router) Handle(envType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[envType] = h
}

// Dispatch decodes one raw frame and invokes the matching handler,
// enforcing the auth gate and the protocol error taxonomy.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		switch err {
		case protocol.ErrMissingType:
			r.reply(s, protocol.ErrorFrame(protocol.CodeMissingType, "envelope has no type"))
		default:
			r.reply(s, protocol.ErrorFrame(protocol.CodeMalformedJSON, "malformed JSON"))
		}
		metrics.WebsocketEvents.WithLabelValues("invalid", "error").Inc()
		return
	}

	r.mu.RLock()
	handler, known := r.handlers[env.Type]
	r.mu.RUnlock()

	if !known {
		r.reply(s, protocol.ErrorFrame(protocol.CodeUnknownType, "unknown message type: "+env.Type))
		metrics.WebsocketEvents.WithLabelValues(env.Type, "unknown").Inc()
		return
	}

	if !publicTypes[env.Type] && !s.Authenticated() {
		r.reply(s, protocol.ErrorFrame(protocol.CodeAuthRequired, "authentication required"))
		metrics.WebsocketEvents.WithLabelValues(env.Type, "unauthenticated").Inc()
		return
	}

	start := time.Now()
	status := "success"

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				status = "panic"
				logging.Error(ctx, "handler panicked",
					zap.String("type", env.Type),
					zap.String("session_id", s.ID),
					zap.Any("panic", rec))
				r.reply(s, protocol.ErrorFrame(protocol.CodeInternalError, "internal error"))
			}
		}()
		handler(ctx, s, env)
	}()

	metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	metrics.WebsocketEvents.WithLabelValues(env.Type, status).Inc()
}

func (r *Router) reply(s *Session, out *protocol.Outbound) {
	if data, err := out.Marshal(); err == nil {
		s.SendRaw(data)
	}
}

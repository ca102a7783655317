// Package dispatch maps typed request envelopes onto handler functions and
// writes the resulting response envelope into the response cache keyed by
// requestId. Routing is an explicit registration table keyed by the payload
// tag plus the method verb; unknown tags are rejected.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/norsh/blockchain/business/sys/cache"
	"github.com/norsh/blockchain/business/sys/metrics"
	"github.com/norsh/blockchain/business/sys/op"
	"go.uber.org/zap"
)

// Verbs accepted on envelopes.
const (
	VerbGet    = "GET"
	VerbPost   = "POST"
	VerbPut    = "PUT"
	VerbDelete = "DELETE"
)

// Envelope is the wire shape shared by requests and responses.
type Envelope struct {
	RequestID        string          `json:"requestId"`
	RequestClassName string          `json:"requestClassName,omitempty"`
	Method           string          `json:"method,omitempty"`
	RequestData      json.RawMessage `json:"requestData,omitempty"`
	Status           string          `json:"status,omitempty"`
	Data             any             `json:"data,omitempty"`
}

// HandlerFunc processes the raw payload of one envelope. A returned op.Error
// becomes the envelope status; any other error surfaces as INTERNAL.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// Config is the required properties to construct a dispatcher.
type Config struct {
	Log   *zap.SugaredLogger
	Cache cache.Cache
	TTL   time.Duration // lifetime of cached response envelopes
}

// Dispatcher routes envelopes to registered handlers.
type Dispatcher struct {
	log    *zap.SugaredLogger
	cache  cache.Cache
	ttl    time.Duration
	routes map[string]HandlerFunc
}

// New constructs a dispatcher from the configuration.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		log:    cfg.Log,
		cache:  cfg.Cache,
		ttl:    cfg.TTL,
		routes: make(map[string]HandlerFunc),
	}
}

// Handle registers the handler for the payload tag and verb combination.
func (d *Dispatcher) Handle(tag string, verb string, handler HandlerFunc) {
	d.routes[routeKey(tag, verb)] = handler
}

// Dispatch routes the envelope to its handler and returns the response
// envelope. Every response, success or failure, is also written to the
// response cache under the requestId.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) Envelope {
	resp := d.process(ctx, env)

	if env.RequestID != "" {
		if err := d.respond(ctx, resp); err != nil {
			d.log.Errorw("response cache write failed", "requestId", env.RequestID, "ERROR", err)
		}
	}

	metrics.EnvelopesDispatched.WithLabelValues(resp.Status).Inc()

	return resp
}

func (d *Dispatcher) process(ctx context.Context, env Envelope) Envelope {
	handler, exists := d.routes[routeKey(env.RequestClassName, env.Method)]
	if !exists {
		d.log.Warnw("no handler registered", "tag", env.RequestClassName, "method", env.Method)
		return Envelope{
			RequestID: env.RequestID,
			Status:    string(op.StatusInternal),
			Data:      fmt.Sprintf("no handler for %s", routeKey(env.RequestClassName, env.Method)),
		}
	}

	result, err := handler(ctx, env.RequestData)
	if err != nil {
		if oe, ok := op.AsError(err); ok {
			data := oe.Data
			if data == nil && oe.Message != "" {
				data = oe.Message
			}
			return Envelope{
				RequestID: env.RequestID,
				Status:    string(oe.Status),
				Data:      data,
			}
		}

		d.log.Errorw("handler failed", "tag", env.RequestClassName, "method", env.Method, "ERROR", err)
		return Envelope{
			RequestID: env.RequestID,
			Status:    string(op.StatusInternal),
		}
	}

	return Envelope{
		RequestID: env.RequestID,
		Status:    string(op.StatusOK),
		Data:      result,
	}
}

// respond persists the response envelope so the gateway can collect it for
// up to the messaging TTL.
func (d *Dispatcher) respond(ctx context.Context, resp Envelope) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return d.cache.Set(ctx, resp.RequestID, string(data), d.ttl)
}

func routeKey(tag string, verb string) string {
	return tag + ":" + verb
}

// Decode unmarshals an envelope payload into the handler's DTO type.
func Decode(data json.RawMessage, val any) error {
	if len(data) == 0 {
		return op.NewError(op.StatusError, "missing request data")
	}

	if err := json.Unmarshal(data, val); err != nil {
		return op.Errf(op.StatusError, "malformed request data: %s", err)
	}

	return nil
}

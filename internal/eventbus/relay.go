package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/annel0/tilesync/internal/logging"
	"github.com/annel0/tilesync/internal/world"
)

// Envelope контейнер уведомления для внешних потребителей.
type Envelope struct {
	ID        string          `json:"id"`         // UUID сообщения
	SessionID string          `json:"session_id"` // сессия клиента-источника
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"` // UTC
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope упаковывает событие в JSON конверт
func NewEnvelope(sessionID string, ev world.Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.GetType(), err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		EventType: ev.GetType().String(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}, nil
}

// Subject возвращает subject NATS вида <prefix>.<event>
func Subject(prefix string, t world.EventType) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return t.String()
	}
	return prefix + "." + t.String()
}

// SubjectWildcard subject, покрывающий все события префикса
func SubjectWildcard(prefix string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return "*"
	}
	return prefix + ".*"
}

// RelayOptions параметры ретрансляции
type RelayOptions struct {
	URL       string // nats://127.0.0.1:4222
	Prefix    string
	Stream    string // JetStream стрим; пусто: core NATS
	Retention time.Duration
	SessionID string
}

// NATSRelay ретранслирует уведомления шины в NATS.
type NATSRelay struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	opts   RelayOptions
	sub    Subscription
	logger *logging.Logger
}

// NewNATSRelay подключается к NATS и, если задан стрим, гарантирует его наличие.
func NewNATSRelay(opts RelayOptions) (*NATSRelay, error) {
	nc, err := nats.Connect(opts.URL, nats.Name("tilesync-"+opts.SessionID))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	r := &NATSRelay{nc: nc, opts: opts, logger: logging.GetEventsLogger()}
	if opts.Stream == "" {
		return r, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if _, err := js.StreamInfo(opts.Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      opts.Stream,
			Subjects:  []string{SubjectWildcard(opts.Prefix)},
			Retention: nats.LimitsPolicy,
			MaxAge:    opts.Retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}
	r.js = js
	return r, nil
}

// Attach подписывает ретранслятор на все события шины.
func (r *NATSRelay) Attach(bus *Bus) {
	r.sub = bus.SubscribeAll(r.publish)
}

func (r *NATSRelay) publish(ev world.Event) {
	env, err := NewEnvelope(r.opts.SessionID, ev)
	if err != nil {
		relayDropped.Inc()
		r.logger.Warn("relay: %v", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		relayDropped.Inc()
		r.logger.Warn("relay: marshal envelope: %v", err)
		return
	}

	subj := Subject(r.opts.Prefix, ev.GetType())
	if r.js != nil {
		// асинхронно: подписчик вызывается в цикле опроса клиента
		_, err = r.js.PublishAsync(subj, data)
	} else {
		err = r.nc.Publish(subj, data)
	}
	if err != nil {
		relayDropped.Inc()
		r.logger.Warn("relay publish %s: %v", subj, err)
		return
	}
	relayPublished.Inc()
}

// Close отписывается и закрывает соединение, дожидаясь отправки буфера.
func (r *NATSRelay) Close() error {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	return r.nc.Drain()
}

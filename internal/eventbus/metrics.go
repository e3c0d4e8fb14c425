package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "eventbus",
		Name:      "events_published_total",
		Help:      "Общее число уведомлений, поставленных в очередь.",
	}, []string{"type"})

	subscriberPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "eventbus",
		Name:      "subscriber_panics_total",
		Help:      "Паники в обработчиках подписчиков.",
	})

	relayPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "eventbus",
		Name:      "relay_published_total",
		Help:      "Уведомлений, отправленных в NATS.",
	})

	relayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "eventbus",
		Name:      "relay_dropped_total",
		Help:      "Уведомлений, не отправленных в NATS из-за ошибок.",
	})
)

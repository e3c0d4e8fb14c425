package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "client",
		Name:      "logins_total",
		Help:      "Попытки входа по результату.",
	}, []string{"result"})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tilesync",
		Subsystem: "client",
		Name:      "sessions",
		Help:      "Клиентские сессии по состоянию.",
	}, []string{"state"})

	loadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tilesync",
		Subsystem: "client",
		Name:      "load_blocks_duration_seconds",
		Help:      "Время ожидания LoadBlocks.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	loadTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "client",
		Name:      "load_blocks_timeouts_total",
		Help:      "LoadBlocks, завершившиеся по таймауту.",
	})
)

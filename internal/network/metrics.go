package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "network",
		Name:      "packets_total",
		Help:      "Пакеты по направлению и типу.",
	}, []string{"direction", "type"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "network",
		Name:      "bytes_total",
		Help:      "Байты по направлению.",
	}, []string{"direction"})

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "network",
		Name:      "heartbeats_total",
		Help:      "Отправленные NoOp при простое соединения.",
	})

	disconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "network",
		Name:      "disconnects_total",
		Help:      "Закрытия сессий по причине.",
	}, []string{"reason"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tilesync",
		Subsystem: "network",
		Name:      "active_sessions",
		Help:      "Открытые сессии.",
	})
)

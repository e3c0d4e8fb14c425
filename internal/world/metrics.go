package world

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksResident = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tilesync",
		Subsystem: "block_cache",
		Name:      "resident_blocks",
		Help:      "Количество блоков в кеше.",
	})
	blocksEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "block_cache",
		Name:      "evictions_total",
		Help:      "Блоков вытеснено из кеша.",
	})
	consistencyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilesync",
		Subsystem: "landscape",
		Name:      "consistency_violations_total",
		Help:      "Изменения, пришедшие для незагруженных блоков или отсутствующих статик.",
	}, []string{"kind"})
)

// Package metrics метрики Prometheus, отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "freight"

var EscrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "escrow",
	Name:      "transitions_total",
	Help:      "Успешные переходы эскроу по действию.",
}, []string{"action", "to"})

var EscrowRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "escrow",
	Name:      "rejections_total",
	Help:      "Отклонённые мутации эскроу по коду ошибки.",
}, []string{"operation", "code"})

var SettlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "attempts_total",
	Help:      "Обращения к провайдеру выплат по виду операции и результату.",
}, []string{"kind", "result"})

var SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "duration_seconds",
	Help:      "Длительность выплаты или возврата с учётом повторов.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

var MatchesProposed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "matching",
	Name:      "proposed_total",
	Help:      "Созданные предложения перевозки по приоритету.",
}, []string{"priority"})

var MatchDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "matching",
	Name:      "decisions_total",
	Help:      "Решения по предложениям: accepted, rejected, expired и reverted.",
}, []string{"status"})

var MatchScore = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "matching",
	Name:      "score",
	Help:      "Распределение оценок совпадения.",
	Buckets:   prometheus.LinearBuckets(0, 10, 11),
})

var EscrowsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "reconciliation",
	Name:      "escrows",
	Help:      "Количество эскроу по состоянию на момент последней сверки.",
}, []string{"state"})

var FlaggedEscrows = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "reconciliation",
	Name:      "flagged",
	Help:      "Записи, требующие внимания, по итогам последней сверки.",
})

var OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "outbox",
	Name:      "published_total",
	Help:      "Доставленные и неудавшиеся события по публикатору.",
}, []string{"publisher", "result"})

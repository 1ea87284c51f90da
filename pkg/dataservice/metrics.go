package dataservice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счетчики сервиса данных. nil *Metrics ничего не считает.
type Metrics struct {
	// performs - вызовы Perform/MultiplePerform по результату
	performs *prometheus.CounterVec
	// rowsSynced - строки, отправленные синхронизацией, по проходу
	rowsSynced *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics регистрирует метрики в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		performs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluidsql_perform_total",
				Help: "Total number of Perform and MultiplePerform calls by outcome",
			},
			[]string{"dialect", "status"},
		),
		rowsSynced: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluidsql_rows_synced_total",
				Help: "Total number of dataset rows persisted by Update configurations",
			},
			[]string{"dialect", "table", "pass"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluidsql_perform_duration_seconds",
				Help:    "Duration of Perform and MultiplePerform calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dialect"},
		),
	}
}

func (m *Metrics) observePerform(dialect, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.performs.WithLabelValues(dialect, status).Inc()
	m.duration.WithLabelValues(dialect).Observe(d.Seconds())
}

func (m *Metrics) addRows(dialect, table, pass string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsSynced.WithLabelValues(dialect, table, pass).Add(float64(n))
}

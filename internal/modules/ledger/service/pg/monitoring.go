package pg

import (
	"context"

	"signal_bridge/internal/models"
	"signal_bridge/pkg/db"
)

type monitoringTable struct{}

func (monitoringTable) InsertMetric(ctx context.Context, q db.Transaction, m *models.Metric) error {
	if m.Period == "" {
		m.Period = "realtime"
	}
	return q.QueryRow(ctx, `
		INSERT INTO performance_metrics (timestamp, metric_type, metric_name, metric_value, period, channel)
		VALUES (COALESCE($1::timestamptz, now()), $2, $3, $4, $5, $6)
		RETURNING id, timestamp`,
		nullTime(m.Timestamp), m.Type, m.Name, m.Value, m.Period, nullable(m.Channel),
	).Scan(&m.ID, &m.Timestamp)
}

func (monitoringTable) InsertHealth(ctx context.Context, q db.Transaction, h *models.HealthRecord) error {
	return q.QueryRow(ctx, `
		INSERT INTO system_health (timestamp, component, status, latency_ms, error_count, message)
		VALUES (COALESCE($1::timestamptz, now()), $2, $3, $4, $5, $6)
		RETURNING id, timestamp`,
		nullTime(h.Timestamp), h.Component, h.Status, h.LatencyMs, h.ErrorCount, nullable(h.Message),
	).Scan(&h.ID, &h.Timestamp)
}

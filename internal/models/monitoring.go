package models

import "time"

// Metric is one performance_metrics row.
type Metric struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"metric_type"`
	Name      string    `json:"metric_name"`
	Value     float64   `json:"metric_value"`
	Period    string    `json:"period"`
	Channel   string    `json:"channel,omitempty"`
}

// HealthRecord is one system_health row.
type HealthRecord struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Component  string    `json:"component"`
	Status     string    `json:"status"`
	LatencyMs  *int64    `json:"latency_ms,omitempty"`
	ErrorCount int       `json:"error_count"`
	Message    string    `json:"message,omitempty"`
}

package models

import (
	"time"
)

// AlertType 报警类型
type AlertType string

const (
	AlertHighStressProlonged AlertType = "high_stress_prolonged"
	AlertFatigueDetected     AlertType = "fatigue_detected"
	AlertAnomalyDetected     AlertType = "anomaly_detected"
)

// AlertSeverity 报警级别
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// AlertStatus 报警状态（resolved 为终态）
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert 报警（对应 alerts 表）
// 生命周期：pending → acknowledged → resolved 或 pending → resolved，不删除
type Alert struct {
	AlertID     string        `json:"alert_id" db:"alert_id"`
	SubjectID   *string       `json:"subject_id,omitempty" db:"subject_id"`
	Type        AlertType     `json:"alert_type" db:"alert_type"`
	Severity    AlertSeverity `json:"severity" db:"severity"`
	StressLevel float64       `json:"stress_level" db:"stress_level"`
	Timestamp   time.Time     `json:"timestamp" db:"timestamp"`
	Status      AlertStatus   `json:"status" db:"status"`
	Message     string        `json:"message" db:"message"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy  *string       `json:"resolved_by,omitempty" db:"resolved_by"`
}

// Scope 返回报警所属范围（空字符串表示全局）
func (a *Alert) Scope() string {
	if a.SubjectID == nil {
		return ""
	}
	return *a.SubjectID
}

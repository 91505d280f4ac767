package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stressvision/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertsRepository 报警仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// AlertFilters 报警过滤条件
type AlertFilters struct {
	Status    *models.AlertStatus // 报警状态
	SubjectID *string             // 对象ID
	StartTime *time.Time          // 开始时间（timestamp >= StartTime）
	EndTime   *time.Time          // 结束时间（timestamp <= EndTime）
	Limit     int                 // 返回条数上限（<=0 时使用默认 100）
}

// ============================================
// 基础 CRUD 操作
// ============================================

// CreateAlert 写入报警，返回分配的 alert_id
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) (string, error) {
	if alert == nil {
		return "", fmt.Errorf("alert is required")
	}

	alertID := alert.AlertID
	if alertID == "" {
		alertID = uuid.NewString()
	}

	query := `
		INSERT INTO alerts
			(alert_id, subject_id, alert_type, severity, stress_level,
			 timestamp, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		alertID,
		alert.SubjectID,
		string(alert.Type),
		string(alert.Severity),
		alert.StressLevel,
		alert.Timestamp,
		string(alert.Status),
		alert.Message,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create alert: %w", err)
	}

	return alertID, nil
}

// GetAlert 根据 alert_id 获取单个报警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT
			alert_id,
			subject_id,
			alert_type,
			severity,
			stress_level,
			timestamp,
			status,
			message,
			resolved_at,
			resolved_by
		FROM alerts
		WHERE alert_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, alertID)
	alert, err := scanAlertRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert not found: %s", alertID)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// GetAlerts 按过滤条件查询报警（按时间倒序）
func (r *AlertsRepository) GetAlerts(ctx context.Context, filters AlertFilters) ([]models.Alert, error) {
	query := `
		SELECT
			alert_id,
			subject_id,
			alert_type,
			severity,
			stress_level,
			timestamp,
			status,
			message,
			resolved_at,
			resolved_by
		FROM alerts
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*filters.Status))
		argIdx++
	}
	if filters.SubjectID != nil {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, *filters.SubjectID)
		argIdx++
	}
	if filters.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *filters.StartTime)
		argIdx++
	}
	if filters.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *filters.EndTime)
		argIdx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// UpdateAlertStatus 更新报警状态
// 状态为 resolved 时写入 resolved_at 和 resolved_by
func (r *AlertsRepository) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus, resolvedBy *string) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	var resolvedAt *time.Time
	if status == models.AlertStatusResolved {
		now := time.Now()
		resolvedAt = &now
	}

	query := `
		UPDATE alerts
		SET status = $1, resolved_at = $2, resolved_by = $3
		WHERE alert_id = $4
	`

	result, err := r.db.ExecContext(ctx, query, string(status), resolvedAt, resolvedBy, alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert not found: %s", alertID)
	}

	return nil
}

// ============================================
// 扫描辅助
// ============================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertFields(s rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var subjectID, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	var alertType, severity, status string

	err := s.Scan(
		&alert.AlertID,
		&subjectID,
		&alertType,
		&severity,
		&alert.StressLevel,
		&alert.Timestamp,
		&status,
		&alert.Message,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	alert.Type = models.AlertType(alertType)
	alert.Severity = models.AlertSeverity(severity)
	alert.Status = models.AlertStatus(status)
	if subjectID.Valid {
		alert.SubjectID = &subjectID.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.String
	}

	return &alert, nil
}

func scanAlert(rows *sql.Rows) (*models.Alert, error) {
	alert, err := scanAlertFields(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return alert, nil
}

func scanAlertRow(row *sql.Row) (*models.Alert, error) {
	return scanAlertFields(row)
}

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

// DetectionsRepository 检测事件仓库
type DetectionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDetectionsRepository 创建检测事件仓库
func NewDetectionsRepository(db *sql.DB, logger *zap.Logger) *DetectionsRepository {
	return &DetectionsRepository{
		db:     db,
		logger: logger,
	}
}

// DetectionFilters 检测事件过滤条件
type DetectionFilters struct {
	SubjectID *string    // 对象ID（直接过滤，nil 表示所有范围）
	StartTime *time.Time // 开始时间（timestamp >= StartTime）
	EndTime   *time.Time // 结束时间（timestamp <= EndTime）
	Limit     int        // 返回条数上限（<=0 时使用默认 1000）
}

// CreateDetection 写入检测事件，返回分配的 detection_id
func (r *DetectionsRepository) CreateDetection(ctx context.Context, event *models.DetectionEvent) (string, error) {
	if event == nil {
		return "", fmt.Errorf("detection event is required")
	}

	detectionID := event.DetectionID
	if detectionID == "" {
		detectionID = uuid.NewString()
	}

	query := `
		INSERT INTO detection_events
			(detection_id, session_id, subject_id, track_id, timestamp,
			 emotion, confidence, stress_level, bounding_box, probabilities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		detectionID,
		event.SessionID,
		event.SubjectID,
		event.TrackID,
		event.Timestamp,
		string(event.Emotion),
		event.Confidence,
		event.StressLevel,
		event.BoundingBox,
		event.Probabilities,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create detection event: %w", err)
	}

	return detectionID, nil
}

// GetDetections 按过滤条件查询检测事件（按时间倒序）
func (r *DetectionsRepository) GetDetections(ctx context.Context, filters DetectionFilters) ([]models.DetectionEvent, error) {
	query := `
		SELECT
			detection_id,
			session_id,
			subject_id,
			track_id,
			timestamp,
			emotion,
			confidence,
			stress_level,
			bounding_box,
			probabilities,
			created_at
		FROM detection_events
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

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
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection events: %w", err)
	}
	defer rows.Close()

	var events []models.DetectionEvent
	for rows.Next() {
		event, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detection events: %w", err)
	}

	return events, nil
}

// scanDetection 扫描单行检测事件
func scanDetection(rows *sql.Rows) (*models.DetectionEvent, error) {
	var event models.DetectionEvent
	var sessionID, subjectID sql.NullString
	var trackID sql.NullInt64
	var stressLevel sql.NullFloat64
	var emotion string

	err := rows.Scan(
		&event.DetectionID,
		&sessionID,
		&subjectID,
		&trackID,
		&event.Timestamp,
		&emotion,
		&event.Confidence,
		&stressLevel,
		&event.BoundingBox,
		&event.Probabilities,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan detection event: %w", err)
	}

	event.Emotion = models.EmotionLabel(emotion)
	if sessionID.Valid {
		event.SessionID = &sessionID.String
	}
	if subjectID.Valid {
		event.SubjectID = &subjectID.String
	}
	if trackID.Valid {
		event.TrackID = &trackID.Int64
	}
	if stressLevel.Valid {
		event.StressLevel = &stressLevel.Float64
	}

	return &event, nil
}

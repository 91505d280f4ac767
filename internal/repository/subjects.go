package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stressvision/internal/recognizer"

	"go.uber.org/zap"
)

// SubjectsRepository 注册对象仓库（持久化注册嵌入，重启后恢复）
type SubjectsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubjectsRepository 创建注册对象仓库
func NewSubjectsRepository(db *sql.DB, logger *zap.Logger) *SubjectsRepository {
	return &SubjectsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertSubjectEmbedding 写入或整体替换对象嵌入
func (r *SubjectsRepository) UpsertSubjectEmbedding(ctx context.Context, entry *recognizer.SubjectEmbedding) error {
	if entry == nil || entry.SubjectID == "" {
		return fmt.Errorf("subject embedding with subject_id is required")
	}

	embedding, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO subjects (subject_id, embedding, quality_score, sample_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			quality_score = EXCLUDED.quality_score,
			sample_count = EXCLUDED.sample_count,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.SubjectID,
		embedding,
		entry.QualityScore,
		entry.SampleCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subject embedding: %w", err)
	}

	return nil
}

// GetSubjectEmbeddings 获取所有注册嵌入（按注册时间顺序，保证匹配平局策略稳定）
func (r *SubjectsRepository) GetSubjectEmbeddings(ctx context.Context) ([]recognizer.SubjectEmbedding, error) {
	query := `
		SELECT subject_id, embedding, quality_score, sample_count
		FROM subjects
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var entries []recognizer.SubjectEmbedding
	for rows.Next() {
		var entry recognizer.SubjectEmbedding
		var embedding []byte

		if err := rows.Scan(&entry.SubjectID, &embedding, &entry.QualityScore, &entry.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		if err := json.Unmarshal(embedding, &entry.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subjects: %w", err)
	}

	return entries, nil
}

// GetSubjectEmbedding 获取单个对象的注册嵌入
func (r *SubjectsRepository) GetSubjectEmbedding(ctx context.Context, subjectID string) (*recognizer.SubjectEmbedding, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	query := `
		SELECT subject_id, embedding, quality_score, sample_count
		FROM subjects
		WHERE subject_id = $1
	`

	var entry recognizer.SubjectEmbedding
	var embedding []byte

	err := r.db.QueryRowContext(ctx, query, subjectID).Scan(
		&entry.SubjectID,
		&embedding,
		&entry.QualityScore,
		&entry.SampleCount,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subject not found: %s", subjectID)
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	if err := json.Unmarshal(embedding, &entry.Embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	return &entry, nil
}

package recognizer

import (
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"
)

// 注册失败原因
var (
	ErrInsufficientSamples = errors.New("enrollment requires at least the configured minimum of non-empty embeddings")
	ErrLowQuality          = errors.New("enrollment quality below threshold")
)

// SubjectEmbedding 已注册对象的平均嵌入向量
// 注册成功时整体写入，重复注册整体替换，不做部分更新
type SubjectEmbedding struct {
	SubjectID    string    `json:"subject_id"`
	Embedding    []float64 `json:"embedding"`
	QualityScore float64   `json:"quality_score"`
	SampleCount  int       `json:"sample_count"`
}

// MatchResult 识别结果
// SubjectID 为空表示未命中，Similarity 为本次最佳相似度（注册表为空时为 0.0）
type MatchResult struct {
	SubjectID  string  `json:"subject_id,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Matcher 身份匹配器（基于余弦相似度的嵌入向量注册表）
type Matcher struct {
	mu sync.RWMutex

	// 注册表：按注册顺序维护 ID 列表，保证平局时确定性地取先注册者
	subjectIDs []string
	subjects   map[string]SubjectEmbedding

	recognitionThreshold float64
	minSamples           int
	qualityThreshold     float64
	logger               *zap.Logger
}

// NewMatcher 创建身份匹配器
func NewMatcher(recognitionThreshold float64, minSamples int, qualityThreshold float64, logger *zap.Logger) *Matcher {
	return &Matcher{
		subjects:             make(map[string]SubjectEmbedding),
		recognitionThreshold: recognitionThreshold,
		minSamples:           minSamples,
		qualityThreshold:     qualityThreshold,
		logger:               logger,
	}
}

// Enroll 注册对象（多个样本嵌入）
// 要求至少 minSamples 个非空向量；质量 = 所有无序样本对的平均余弦相似度
// 失败时注册表不发生任何变化
func (m *Matcher) Enroll(subjectID string, embeddings [][]float64) (*SubjectEmbedding, error) {
	// 过滤空向量
	valid := make([][]float64, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e) > 0 {
			valid = append(valid, e)
		}
	}

	if len(valid) < m.minSamples {
		return nil, ErrInsufficientSamples
	}

	// 计算平均嵌入
	avg := averageEmbedding(valid)

	// 计算注册质量（样本两两相似度的均值）
	var total float64
	var pairs int
	for i := 0; i < len(valid); i++ {
		for j := i + 1; j < len(valid); j++ {
			total += cosineSimilarity(valid[i], valid[j])
			pairs++
		}
	}
	quality := 0.0
	if pairs > 0 {
		quality = total / float64(pairs)
	}

	if quality < m.qualityThreshold {
		m.logger.Warn("Enrollment rejected: low quality",
			zap.String("subject_id", subjectID),
			zap.Float64("quality_score", quality),
		)
		return nil, ErrLowQuality
	}

	entry := SubjectEmbedding{
		SubjectID:    subjectID,
		Embedding:    avg,
		QualityScore: quality,
		SampleCount:  len(valid),
	}

	m.mu.Lock()
	if _, exists := m.subjects[subjectID]; !exists {
		m.subjectIDs = append(m.subjectIDs, subjectID)
	}
	m.subjects[subjectID] = entry
	m.mu.Unlock()

	m.logger.Info("Subject enrolled",
		zap.String("subject_id", subjectID),
		zap.Float64("quality_score", quality),
		zap.Int("sample_count", len(valid)),
	)

	return &entry, nil
}

// Match 识别查询向量
// 遍历注册表取最大相似度；相似度达到阈值才算命中
// 平局策略：按注册顺序取先注册者（严格大于才更新最佳值）
func (m *Matcher) Match(query []float64) MatchResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bestID := ""
	bestSimilarity := 0.0

	for _, id := range m.subjectIDs {
		similarity := cosineSimilarity(query, m.subjects[id].Embedding)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			bestID = id
		}
	}

	if bestSimilarity >= m.recognitionThreshold {
		return MatchResult{SubjectID: bestID, Similarity: bestSimilarity}
	}
	return MatchResult{Similarity: bestSimilarity}
}

// Load 从持久化数据恢复注册表（按给定顺序，整体替换现有条目）
func (m *Matcher) Load(entries []SubjectEmbedding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		if _, exists := m.subjects[entry.SubjectID]; !exists {
			m.subjectIDs = append(m.subjectIDs, entry.SubjectID)
		}
		m.subjects[entry.SubjectID] = entry
	}
}

// Subjects 返回已注册对象 ID（按注册顺序）
func (m *Matcher) Subjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, len(m.subjectIDs))
	copy(ids, m.subjectIDs)
	return ids
}

// averageEmbedding 按维度求平均（以第一个向量的长度为准）
func averageEmbedding(embeddings [][]float64) []float64 {
	dim := len(embeddings[0])
	avg := make([]float64, dim)
	var count int
	for _, e := range embeddings {
		if len(e) != dim {
			continue
		}
		for i, v := range e {
			avg[i] += v
		}
		count++
	}
	if count == 0 {
		return avg
	}
	for i := range avg {
		avg[i] /= float64(count)
	}
	return avg
}

// cosineSimilarity 余弦相似度
// 零范数向量与任何向量的相似度定义为 0.0（避免除零）
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

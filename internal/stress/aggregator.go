package stress

import (
	"math"
	"sync"
	"time"

	"stressvision/internal/models"

	"go.uber.org/zap"
)

// 低于该样本数时压力指数固定为 0.0
const minSamplesForIndex = 5

// Sample 窗口内保留的单条观测
type Sample struct {
	Emotion    models.EmotionLabel `json:"emotion"`
	Confidence float64             `json:"confidence"`
	Timestamp  time.Time           `json:"timestamp"`
}

// StressEvent 压力阈值越界事件（仅追加）
type StressEvent struct {
	Timestamp   time.Time           `json:"timestamp"`
	StressIndex float64             `json:"stress_index"`
	Emotion     models.EmotionLabel `json:"emotion"`
	Scope       string              `json:"scope,omitempty"`
}

// Metrics 聚合指标快照
type Metrics struct {
	StressIndex         float64                  `json:"stress_index"`
	TotalDetections     int                      `json:"total_detections"`
	NegativeCount       int                      `json:"negative_count"`
	NegativePercentage  float64                  `json:"negative_percentage"`
	PredominantEmotion  models.EmotionLabel      `json:"predominant_emotion"`
	EmotionDistribution map[models.EmotionLabel]int `json:"emotion_distribution"`
	StressEventsCount   int                      `json:"stress_events_count"`
}

// window 有界环形窗口（FIFO，溢出时淘汰最旧样本）
type window struct {
	buf   []Sample
	start int
	count int
}

func newWindow(capacity int) *window {
	return &window{buf: make([]Sample, capacity)}
}

func (w *window) append(s Sample) {
	if w.count < len(w.buf) {
		w.buf[(w.start+w.count)%len(w.buf)] = s
		w.count++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// recent 返回最近 n 条样本（时间顺序），n 超出时返回全部
func (w *window) recent(n int) []Sample {
	if n > w.count {
		n = w.count
	}
	out := make([]Sample, 0, n)
	for i := w.count - n; i < w.count; i++ {
		out = append(out, w.buf[(w.start+i)%len(w.buf)])
	}
	return out
}

func (w *window) all() []Sample {
	return w.recent(w.count)
}

func (w *window) last() (Sample, bool) {
	if w.count == 0 {
		return Sample{}, false
	}
	return w.buf[(w.start+w.count-1)%len(w.buf)], true
}

// Aggregator 压力指数聚合器
// 维护全局窗口和每个范围的有界窗口；所有写入经由单一摄取协程
type Aggregator struct {
	mu sync.Mutex

	maxHistory int
	windowSize int

	global *window
	scopes map[string]*window

	// 阈值越界事件日志（仅追加）
	events []StressEvent

	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator 创建聚合器
func NewAggregator(maxHistory, windowSize int, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		maxHistory: maxHistory,
		windowSize: windowSize,
		global:     newWindow(maxHistory),
		scopes:     make(map[string]*window),
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock 注入时钟（测试用）
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Add 追加一条观测
// 始终写入全局窗口；scope 非空时同时写入该范围的窗口
func (a *Aggregator) Add(scope string, emotion models.EmotionLabel, confidence float64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Sample{Emotion: emotion, Confidence: confidence, Timestamp: ts}
	a.global.append(s)

	if scope != "" {
		w, ok := a.scopes[scope]
		if !ok {
			w = newWindow(a.maxHistory)
			a.scopes[scope] = w
		}
		w.append(s)
	}
}

// historyLocked 选择范围对应的窗口；未知范围回退到全局窗口
func (a *Aggregator) historyLocked(scope string) *window {
	if scope != "" {
		if w, ok := a.scopes[scope]; ok {
			return w
		}
	}
	return a.global
}

// StressIndex 计算压力指数（使用默认窗口大小）
func (a *Aggregator) StressIndex(scope string) float64 {
	return a.StressIndexWindow(scope, a.windowSize)
}

// StressIndexWindow 计算压力指数，范围 [0,100]
// 历史样本少于 5 条时返回 0.0；否则为最近 window 条中负面情绪的百分比（保留两位小数）
func (a *Aggregator) StressIndexWindow(scope string, windowSize int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stressIndexLocked(scope, windowSize)
}

func (a *Aggregator) stressIndexLocked(scope string, windowSize int) float64 {
	w := a.historyLocked(scope)
	if w.count < minSamplesForIndex {
		return 0.0
	}

	recent := w.recent(windowSize)
	if len(recent) == 0 {
		return 0.0
	}

	negative := 0
	for _, s := range recent {
		if s.Emotion.IsNegative() {
			negative++
		}
	}

	index := float64(negative) / float64(len(recent)) * 100.0
	return round2(index)
}

// EmotionDistribution 统计回看时长内各情绪出现次数
func (a *Aggregator) EmotionDistribution(scope string, lookback time.Duration) map[models.EmotionLabel]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.distributionLocked(scope, lookback)
}

func (a *Aggregator) distributionLocked(scope string, lookback time.Duration) map[models.EmotionLabel]int {
	cutoff := a.now().Add(-lookback)

	distribution := make(map[models.EmotionLabel]int)
	for _, s := range a.historyLocked(scope).all() {
		if !s.Timestamp.Before(cutoff) {
			distribution[s.Emotion]++
		}
	}
	return distribution
}

// CheckThreshold 检查是否超过压力阈值
// 超过时记录一条越界事件并返回 true，否则不记录并返回 false
func (a *Aggregator) CheckThreshold(scope string, threshold float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	index := a.stressIndexLocked(scope, a.windowSize)
	if index <= threshold {
		return false
	}

	lastEmotion := models.EmotionNeutral
	if last, ok := a.historyLocked(scope).last(); ok {
		lastEmotion = last.Emotion
	}

	a.events = append(a.events, StressEvent{
		Timestamp:   a.now(),
		StressIndex: index,
		Emotion:     lastEmotion,
		Scope:       scope,
	})

	a.logger.Debug("Stress threshold exceeded",
		zap.String("scope", scopeLabel(scope)),
		zap.Float64("stress_index", index),
	)

	return true
}

// Metrics 获取聚合指标
// 分布按样本时间顺序统计，predominant 平局时取先出现的标签
func (a *Aggregator) Metrics(scope string, lookback time.Duration) Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	index := a.stressIndexLocked(scope, a.windowSize)

	cutoff := a.now().Add(-lookback)
	distribution := make(map[models.EmotionLabel]int)
	predominant := models.EmotionNeutral
	best := 0
	total := 0
	negative := 0

	for _, s := range a.historyLocked(scope).all() {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		distribution[s.Emotion]++
		total++
		if s.Emotion.IsNegative() {
			negative++
		}
		// 严格大于：并列时保留先达到该计数的标签
		if distribution[s.Emotion] > best {
			best = distribution[s.Emotion]
			predominant = s.Emotion
		}
	}

	negativePct := 0.0
	if total > 0 {
		negativePct = float64(negative) / float64(total) * 100.0
	}

	eventCount := 0
	for _, e := range a.events {
		if scope == "" || e.Scope == scope {
			eventCount++
		}
	}

	return Metrics{
		StressIndex:         index,
		TotalDetections:     total,
		NegativeCount:       negative,
		NegativePercentage:  negativePct,
		PredominantEmotion:  predominant,
		EmotionDistribution: distribution,
		StressEventsCount:   eventCount,
	}
}

// KnownScopes 返回所有已观测到样本的范围 ID
func (a *Aggregator) KnownScopes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	scopes := make([]string, 0, len(a.scopes))
	for scope := range a.scopes {
		scopes = append(scopes, scope)
	}
	return scopes
}

// ClearHistory 清空历史
// scope 非空时仅清空该范围；为空时清空全局和所有范围
func (a *Aggregator) ClearHistory(scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if scope != "" {
		delete(a.scopes, scope)
		return
	}
	a.global = newWindow(a.maxHistory)
	a.scopes = make(map[string]*window)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func scopeLabel(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}

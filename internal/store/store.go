// Package store persists usage records, classifier decisions, debug traces,
// and configuration snapshots in SQLite.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mcowger/plexus/internal/trace"
)

// UsageRecord is one completed request's accounting row.
type UsageRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RequestID string    `gorm:"column:request_id;index;not null" json:"request_id"`
	Timestamp time.Time `gorm:"column:timestamp;index:idx_usage_timestamp;not null" json:"timestamp"`

	Dialect       string `gorm:"column:dialect;not null" json:"dialect"`
	RequestModel  string `gorm:"column:request_model;index;not null" json:"request_model"`
	Provider      string `gorm:"column:provider;index:idx_usage_provider_model" json:"provider"`
	ProviderModel string `gorm:"column:provider_model;index:idx_usage_provider_model" json:"provider_model"`

	InputTokens     int64 `gorm:"column:input_tokens;not null" json:"input_tokens"`
	OutputTokens    int64 `gorm:"column:output_tokens;not null" json:"output_tokens"`
	TotalTokens     int64 `gorm:"column:total_tokens;not null" json:"total_tokens"`
	CachedTokens    *int64 `gorm:"column:cached_tokens" json:"cached_tokens,omitempty"`
	ReasoningTokens *int64 `gorm:"column:reasoning_tokens" json:"reasoning_tokens,omitempty"`
	TokensEstimated bool  `gorm:"column:tokens_estimated;default:0" json:"tokens_estimated"`

	CostUSD   *float64 `gorm:"column:cost_usd" json:"cost_usd,omitempty"`
	EnergyWh  *float64 `gorm:"column:energy_wh" json:"energy_wh,omitempty"`
	LatencyMS int64    `gorm:"column:latency_ms" json:"latency_ms"`
	Streamed  bool     `gorm:"column:streamed;default:0" json:"streamed"`
	Status    string   `gorm:"column:status;index;not null" json:"status"` // success, error
	ErrorClass string  `gorm:"column:error_class" json:"error_class,omitempty"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// ClassifierLog records one auto-routing decision.
type ClassifierLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RequestID string    `gorm:"column:request_id;index;not null" json:"request_id"`
	Timestamp time.Time `gorm:"column:timestamp;index;not null" json:"timestamp"`

	Tier          string  `gorm:"column:tier;not null" json:"tier"`
	Score         float64 `gorm:"column:score" json:"score"`
	Confidence    float64 `gorm:"column:confidence" json:"confidence"`
	Method        string  `gorm:"column:method" json:"method"`
	Boosted       bool    `gorm:"column:boosted;default:0" json:"boosted"`
	ResolvedAlias string  `gorm:"column:resolved_alias" json:"resolved_alias"`
	Signals       string  `gorm:"column:signals" json:"signals"` // JSON array
	Reasoning     string  `gorm:"column:reasoning" json:"reasoning"`
}

func (ClassifierLog) TableName() string { return "classifier_logs" }

// DebugLog is a persisted request trace.
type DebugLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;not null" json:"request_id"`
	Timestamp time.Time `gorm:"column:timestamp;index;not null" json:"timestamp"`
	Dialect   string    `gorm:"column:dialect" json:"dialect"`
	Provider  string    `gorm:"column:provider" json:"provider"`
	Error     string    `gorm:"column:error" json:"error,omitempty"`
	Body      string    `gorm:"column:body;type:text" json:"body"` // JSON-encoded trace.Trace
}

func (DebugLog) TableName() string { return "debug_logs" }

// ConfigSnapshot is one historical configuration revision.
type ConfigSnapshot struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Timestamp time.Time `gorm:"column:timestamp;index;not null" json:"timestamp"`
	Source    string    `gorm:"column:source;not null" json:"source"` // file-reload, admin-update, startup
	Raw       string    `gorm:"column:raw;type:text;not null" json:"raw"`
}

func (ConfigSnapshot) TableName() string { return "config_snapshots" }

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the gateway database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "plexus.db")
	dsn := dbPath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&UsageRecord{}, &ClassifierLog{}, &DebugLog{}, &ConfigSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory database, used by tests.
func OpenInMemory() (*Store, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&UsageRecord{}, &ClassifierLog{}, &DebugLog{}, &ConfigSnapshot{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveUsage inserts one usage record.
func (s *Store) SaveUsage(rec *UsageRecord) error {
	return s.db.Create(rec).Error
}

// SaveClassifierLog inserts one classifier decision.
func (s *Store) SaveClassifierLog(rec *ClassifierLog) error {
	return s.db.Create(rec).Error
}

// SaveTrace persists a completed trace, implementing trace.Sink.
func (s *Store) SaveTrace(t *trace.Trace) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Create(&DebugLog{
		RequestID: t.RequestID,
		Timestamp: t.StartedAt,
		Dialect:   t.Dialect,
		Provider:  t.Provider,
		Error:     t.Error,
		Body:      string(body),
	}).Error
}

// SaveConfigSnapshot records one configuration revision.
func (s *Store) SaveConfigSnapshot(source string, raw []byte) error {
	return s.db.Create(&ConfigSnapshot{
		Timestamp: time.Now(),
		Source:    source,
		Raw:       string(raw),
	}).Error
}

// ListTraces returns recent debug logs, newest first, without bodies.
func (s *Store) ListTraces(limit int) ([]DebugLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []DebugLog
	err := s.db.
		Select("id", "request_id", "timestamp", "dialect", "provider", "error").
		Order("timestamp DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetTrace fetches one full debug log by request id.
func (s *Store) GetTrace(requestID string) (*DebugLog, error) {
	var rec DebugLog
	if err := s.db.Where("request_id = ?", requestID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteTrace removes one debug log by request id.
func (s *Store) DeleteTrace(requestID string) error {
	return s.db.Where("request_id = ?", requestID).Delete(&DebugLog{}).Error
}

// ListClassifierLogs returns recent classifier decisions, newest first.
func (s *Store) ListClassifierLogs(limit int) ([]ClassifierLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ClassifierLog
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&out).Error
	return out, err
}

// ListConfigSnapshots returns configuration history, newest first.
func (s *Store) ListConfigSnapshots(limit int) ([]ConfigSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ConfigSnapshot
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&out).Error
	return out, err
}

// UsageSummary is an aggregated usage row.
type UsageSummary struct {
	Provider      string  `json:"provider"`
	ProviderModel string  `json:"provider_model"`
	RequestCount  int64   `json:"request_count"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalTokens   int64   `json:"total_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	EnergyWh      float64 `json:"energy_wh"`
	ErrorCount    int64   `json:"error_count"`
}

// AggregateUsage groups usage by provider and upstream model over the
// given window. A zero since means all time.
func (s *Store) AggregateUsage(since time.Time) ([]UsageSummary, error) {
	var out []UsageSummary
	q := s.db.Model(&UsageRecord{}).
		Select(`provider,
			provider_model,
			COUNT(*) AS request_count,
			SUM(input_tokens) AS input_tokens,
			SUM(output_tokens) AS output_tokens,
			SUM(total_tokens) AS total_tokens,
			COALESCE(SUM(cost_usd), 0) AS cost_usd,
			COALESCE(SUM(energy_wh), 0) AS energy_wh,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS error_count`).
		Group("provider, provider_model").
		Order("total_tokens DESC")
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	err := q.Scan(&out).Error
	return out, err
}

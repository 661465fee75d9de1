package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical row store for the personalization pipeline.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the companion database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines and serializes the
	// read-then-write upsert and identity-append transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			fact_key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.8,
			source TEXT NOT NULL DEFAULT 'inferred',
			last_reinforced_ms INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS memory_facts_unique ON memory_facts(user_id, category, fact_key);`,
		`CREATE INDEX IF NOT EXISTS memory_facts_recency_idx ON memory_facts(user_id, last_reinforced_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL,
			emotional_tone TEXT NOT NULL DEFAULT 'neutral',
			key_topics_json TEXT NOT NULL DEFAULT '[]',
			decisions_json TEXT NOT NULL DEFAULT '[]',
			unresolved_json TEXT NOT NULL DEFAULT '[]',
			milestones_json TEXT NOT NULL DEFAULT '[]',
			period_type TEXT NOT NULL DEFAULT 'conversation',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS summaries_user_idx ON conversation_summaries(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS emotional_patterns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			emotion TEXT NOT NULL,
			intensity REAL NOT NULL DEFAULT 0.5,
			polarity TEXT NOT NULL DEFAULT 'neutral',
			context TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS emotions_user_idx ON emotional_patterns(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS identity_evolution (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			dimension TEXT NOT NULL,
			score REAL NOT NULL,
			delta REAL NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS identity_user_idx ON identity_evolution(user_id, dimension, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS behavioral_insights (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			pattern_type TEXT NOT NULL,
			description TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'mild',
			suggestion TEXT NOT NULL DEFAULT '',
			detected_from TEXT NOT NULL DEFAULT '',
			acknowledged INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS behavioral_user_idx ON behavioral_insights(user_id, pattern_type, acknowledged, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS proactive_insights (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			insight_type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			is_surfaced INTEGER NOT NULL DEFAULT 0,
			is_dismissed INTEGER NOT NULL DEFAULT 0,
			expires_at_ms INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS proactive_user_idx ON proactive_insights(user_id, is_surfaced, is_dismissed, priority DESC);`,
		`CREATE TABLE IF NOT EXISTS ritual_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			ritual_type TEXT NOT NULL,
			summary TEXT NOT NULL,
			accomplishments_json TEXT NOT NULL DEFAULT '[]',
			goals_reviewed_json TEXT NOT NULL DEFAULT '[]',
			intentions_json TEXT NOT NULL DEFAULT '[]',
			mood_trend TEXT NOT NULL DEFAULT '',
			growth_json TEXT NOT NULL DEFAULT '[]',
			period_start_ms INTEGER NOT NULL,
			period_end_ms INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS rituals_user_idx ON ritual_summaries(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS pipeline_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			labels_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS pipeline_metrics_idx ON pipeline_metrics(metric, created_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UpsertFact merges a fact under the (user_id, category, key) natural key in
// one transaction. Reinforcement keeps confidence = max(old, new), always
// takes the newest value text, and refreshes last_reinforced_ms. Lower-
// confidence re-extractions still refresh recency; most-recent phrasing wins.
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact MemoryFact) (MemoryFact, error) {
	if strings.TrimSpace(fact.UserID) == "" {
		return MemoryFact{}, fmt.Errorf("upsert fact: empty user_id")
	}
	if fact.ID == "" {
		fact.ID = "fact-" + uuid.NewString()
	}
	now := nowMS()
	if fact.LastReinforcedMS == 0 {
		fact.LastReinforcedMS = now
	}
	if fact.CreatedAtMS == 0 {
		fact.CreatedAtMS = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MemoryFact{}, fmt.Errorf("upsert fact begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	var existingConfidence float64
	row := tx.QueryRowContext(ctx, `
SELECT id, confidence
FROM memory_facts
WHERE user_id = ? AND category = ? AND fact_key = ?`,
		fact.UserID, string(fact.Category), fact.Key)

	switch err := row.Scan(&existingID, &existingConfidence); {
	case err == nil:
		confidence := existingConfidence
		if fact.Confidence > confidence {
			confidence = fact.Confidence
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE memory_facts
SET value = ?, confidence = ?, last_reinforced_ms = ?
WHERE id = ?`,
			fact.Value, confidence, fact.LastReinforcedMS, existingID); err != nil {
			return MemoryFact{}, fmt.Errorf("upsert fact update: %w", err)
		}
		fact.ID = existingID
		fact.Confidence = confidence
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
INSERT INTO memory_facts(id, user_id, category, fact_key, value, confidence, source, last_reinforced_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fact.ID, fact.UserID, string(fact.Category), fact.Key, fact.Value,
			fact.Confidence, string(fact.Source), fact.LastReinforcedMS, fact.CreatedAtMS); err != nil {
			return MemoryFact{}, fmt.Errorf("upsert fact insert: %w", err)
		}
	default:
		return MemoryFact{}, fmt.Errorf("upsert fact select: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return MemoryFact{}, fmt.Errorf("upsert fact commit: %w", err)
	}
	return fact, nil
}

// PutExplicitFact writes a user-entered fact. Explicit entries bypass the
// merge policy: they overwrite any existing row under the same key outright.
func (s *SQLiteStore) PutExplicitFact(ctx context.Context, userID string, category FactCategory, key, value string) (MemoryFact, error) {
	now := nowMS()
	fact := MemoryFact{
		ID:               "fact-" + uuid.NewString(),
		UserID:           userID,
		Category:         category,
		Key:              key,
		Value:            value,
		Confidence:       1.0,
		Source:           SourceExplicit,
		LastReinforcedMS: now,
		CreatedAtMS:      now,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memory_facts(id, user_id, category, fact_key, value, confidence, source, last_reinforced_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, category, fact_key) DO UPDATE SET
	value = excluded.value,
	confidence = excluded.confidence,
	source = excluded.source,
	last_reinforced_ms = excluded.last_reinforced_ms`,
		fact.ID, fact.UserID, string(fact.Category), fact.Key, fact.Value,
		fact.Confidence, string(fact.Source), fact.LastReinforcedMS, fact.CreatedAtMS)
	if err != nil {
		return MemoryFact{}, fmt.Errorf("put explicit fact: %w", err)
	}
	return fact, nil
}

func (s *SQLiteStore) DeleteFact(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_facts WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFacts returns facts newest-reinforced-first; category "" means all.
func (s *SQLiteStore) ListFacts(ctx context.Context, userID string, category FactCategory, limit int) ([]MemoryFact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, category, fact_key, value, confidence, source, last_reinforced_ms, created_at_ms
FROM memory_facts
WHERE user_id = ?
AND (? = '' OR category = ?)
ORDER BY last_reinforced_ms DESC, rowid DESC
LIMIT ?`, userID, string(category), string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

// ListStaleGoals returns goal facts not reinforced since beforeMS.
func (s *SQLiteStore) ListStaleGoals(ctx context.Context, userID string, beforeMS int64, limit int) ([]MemoryFact, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, category, fact_key, value, confidence, source, last_reinforced_ms, created_at_ms
FROM memory_facts
WHERE user_id = ? AND category = ? AND last_reinforced_ms < ?
ORDER BY last_reinforced_ms ASC, rowid ASC
LIMIT ?`, userID, string(CategoryGoal), beforeMS, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale goals: %w", err)
	}
	defer rows.Close()

	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]MemoryFact, error) {
	out := []MemoryFact{}
	for rows.Next() {
		var f MemoryFact
		var category, source string
		if err := rows.Scan(&f.ID, &f.UserID, &category, &f.Key, &f.Value, &f.Confidence, &source, &f.LastReinforcedMS, &f.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Category = FactCategory(category)
		f.Source = FactSource(source)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertSummary(ctx context.Context, sum ConversationSummary) (ConversationSummary, error) {
	if sum.ID == "" {
		sum.ID = "sum-" + uuid.NewString()
	}
	if sum.CreatedAtMS == 0 {
		sum.CreatedAtMS = nowMS()
	}
	if sum.EmotionalTone == "" {
		sum.EmotionalTone = "neutral"
	}
	if sum.PeriodType == "" {
		sum.PeriodType = "conversation"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversation_summaries(id, user_id, conversation_id, summary, emotional_tone, key_topics_json, decisions_json, unresolved_json, milestones_json, period_type, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.ConversationID, sum.Summary, sum.EmotionalTone,
		encodeList(sum.KeyTopics), encodeList(sum.DecisionsMade),
		encodeList(sum.UnresolvedThreads), encodeList(sum.Milestones),
		sum.PeriodType, sum.CreatedAtMS)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("insert summary: %w", err)
	}
	return sum, nil
}

func (s *SQLiteStore) ListSummaries(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, conversation_id, summary, emotional_tone, key_topics_json, decisions_json, unresolved_json, milestones_json, period_type, created_at_ms
FROM conversation_summaries
WHERE user_id = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

func (s *SQLiteStore) ListSummariesSince(ctx context.Context, userID string, sinceMS int64) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, conversation_id, summary, emotional_tone, key_topics_json, decisions_json, unresolved_json, milestones_json, period_type, created_at_ms
FROM conversation_summaries
WHERE user_id = ? AND created_at_ms >= ?
ORDER BY created_at_ms DESC, rowid DESC`, userID, sinceMS)
	if err != nil {
		return nil, fmt.Errorf("list summaries since: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]ConversationSummary, error) {
	out := []ConversationSummary{}
	for rows.Next() {
		var c ConversationSummary
		var topics, decisions, unresolved, milestones string
		if err := rows.Scan(&c.ID, &c.UserID, &c.ConversationID, &c.Summary, &c.EmotionalTone, &topics, &decisions, &unresolved, &milestones, &c.PeriodType, &c.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		c.KeyTopics = decodeList(topics)
		c.DecisionsMade = decodeList(decisions)
		c.UnresolvedThreads = decodeList(unresolved)
		c.Milestones = decodeList(milestones)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertEmotion(ctx context.Context, ev EmotionalPattern) (EmotionalPattern, error) {
	if ev.ID == "" {
		ev.ID = "emo-" + uuid.NewString()
	}
	if ev.CreatedAtMS == 0 {
		ev.CreatedAtMS = nowMS()
	}
	if ev.Polarity == "" {
		ev.Polarity = PolarityNeutral
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO emotional_patterns(id, user_id, emotion, intensity, polarity, context, conversation_id, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Emotion, ev.Intensity, string(ev.Polarity), ev.Context, ev.ConversationID, ev.CreatedAtMS)
	if err != nil {
		return EmotionalPattern{}, fmt.Errorf("insert emotion: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) ListEmotions(ctx context.Context, userID string, limit int) ([]EmotionalPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, emotion, intensity, polarity, context, conversation_id, created_at_ms
FROM emotional_patterns
WHERE user_id = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list emotions: %w", err)
	}
	defer rows.Close()

	return scanEmotions(rows)
}

func (s *SQLiteStore) ListEmotionsSince(ctx context.Context, userID string, sinceMS int64) ([]EmotionalPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, emotion, intensity, polarity, context, conversation_id, created_at_ms
FROM emotional_patterns
WHERE user_id = ? AND created_at_ms >= ?
ORDER BY created_at_ms DESC, rowid DESC`, userID, sinceMS)
	if err != nil {
		return nil, fmt.Errorf("list emotions since: %w", err)
	}
	defer rows.Close()

	return scanEmotions(rows)
}

func scanEmotions(rows *sql.Rows) ([]EmotionalPattern, error) {
	out := []EmotionalPattern{}
	for rows.Next() {
		var e EmotionalPattern
		var polarity string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Emotion, &e.Intensity, &polarity, &e.Context, &e.ConversationID, &e.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan emotion: %w", err)
		}
		e.Polarity = Polarity(polarity)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emotions: %w", err)
	}
	return out, nil
}

// AppendIdentity inserts one trajectory step for a dimension. The last score
// is read and the new score computed inside a single transaction so two
// concurrent signals for the same dimension cannot double-count a base.
func (s *SQLiteStore) AppendIdentity(ctx context.Context, userID string, dimension Dimension, delta float64, note string) (IdentityEvolution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IdentityEvolution{}, fmt.Errorf("append identity begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	base := identityBaseScore
	row := tx.QueryRowContext(ctx, `
SELECT score FROM identity_evolution
WHERE user_id = ? AND dimension = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT 1`, userID, string(dimension))
	var last float64
	switch err := row.Scan(&last); {
	case err == nil:
		base = last
	case errors.Is(err, sql.ErrNoRows):
	default:
		return IdentityEvolution{}, fmt.Errorf("append identity read last: %w", err)
	}

	entry := IdentityEvolution{
		ID:          "idn-" + uuid.NewString(),
		UserID:      userID,
		Dimension:   dimension,
		Score:       clampScore(base + delta),
		Delta:       delta,
		Note:        note,
		CreatedAtMS: nowMS(),
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO identity_evolution(id, user_id, dimension, score, delta, note, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, string(entry.Dimension), entry.Score, entry.Delta, entry.Note, entry.CreatedAtMS); err != nil {
		return IdentityEvolution{}, fmt.Errorf("append identity insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return IdentityEvolution{}, fmt.Errorf("append identity commit: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) ListIdentity(ctx context.Context, userID string, limit int) ([]IdentityEvolution, error) {
	if limit <= 0 {
		limit = 6
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, dimension, score, delta, note, created_at_ms
FROM identity_evolution
WHERE user_id = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list identity: %w", err)
	}
	defer rows.Close()

	return scanIdentity(rows)
}

func (s *SQLiteStore) ListIdentitySince(ctx context.Context, userID string, sinceMS int64) ([]IdentityEvolution, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, dimension, score, delta, note, created_at_ms
FROM identity_evolution
WHERE user_id = ? AND created_at_ms >= ?
ORDER BY created_at_ms DESC, rowid DESC`, userID, sinceMS)
	if err != nil {
		return nil, fmt.Errorf("list identity since: %w", err)
	}
	defer rows.Close()

	return scanIdentity(rows)
}

func scanIdentity(rows *sql.Rows) ([]IdentityEvolution, error) {
	out := []IdentityEvolution{}
	for rows.Next() {
		var e IdentityEvolution
		var dimension string
		if err := rows.Scan(&e.ID, &e.UserID, &dimension, &e.Score, &e.Delta, &e.Note, &e.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		e.Dimension = Dimension(dimension)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertBehavioralInsight(ctx context.Context, ins BehavioralInsight) (BehavioralInsight, error) {
	if ins.ID == "" {
		ins.ID = "bhv-" + uuid.NewString()
	}
	if ins.CreatedAtMS == 0 {
		ins.CreatedAtMS = nowMS()
	}
	acknowledged := 0
	if ins.Acknowledged {
		acknowledged = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO behavioral_insights(id, user_id, pattern_type, description, severity, suggestion, detected_from, acknowledged, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ins.ID, ins.UserID, string(ins.PatternType), ins.Description, string(ins.Severity),
		ins.Suggestion, ins.DetectedFrom, acknowledged, ins.CreatedAtMS)
	if err != nil {
		return BehavioralInsight{}, fmt.Errorf("insert behavioral insight: %w", err)
	}
	return ins, nil
}

// HasOpenBehavioralInsight reports whether an unacknowledged insight of the
// given pattern type exists; the scanner suppresses duplicates against it.
func (s *SQLiteStore) HasOpenBehavioralInsight(ctx context.Context, userID string, patternType PatternType) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM behavioral_insights
WHERE user_id = ? AND pattern_type = ? AND acknowledged = 0`, userID, string(patternType))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check open behavioral insight: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) AcknowledgeBehavioralInsight(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE behavioral_insights SET acknowledged = 1
WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("acknowledge behavioral insight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListBehavioralInsightsSince(ctx context.Context, userID string, sinceMS int64) ([]BehavioralInsight, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, pattern_type, description, severity, suggestion, detected_from, acknowledged, created_at_ms
FROM behavioral_insights
WHERE user_id = ? AND created_at_ms >= ?
ORDER BY created_at_ms DESC, rowid DESC`, userID, sinceMS)
	if err != nil {
		return nil, fmt.Errorf("list behavioral insights: %w", err)
	}
	defer rows.Close()

	out := []BehavioralInsight{}
	for rows.Next() {
		var b BehavioralInsight
		var patternType, severity string
		var acknowledged int
		if err := rows.Scan(&b.ID, &b.UserID, &patternType, &b.Description, &severity, &b.Suggestion, &b.DetectedFrom, &acknowledged, &b.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan behavioral insight: %w", err)
		}
		b.PatternType = PatternType(patternType)
		b.Severity = Severity(severity)
		b.Acknowledged = acknowledged != 0
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate behavioral insights: %w", err)
	}
	return out, nil
}

// StageProactiveInsight inserts unless a pending (unsurfaced, undismissed)
// insight of the same type already exists for the user. The check and insert
// share one transaction so two scans cannot both stage the same nag.
func (s *SQLiteStore) StageProactiveInsight(ctx context.Context, ins ProactiveInsight) (bool, error) {
	if ins.ID == "" {
		ins.ID = "pro-" + uuid.NewString()
	}
	if ins.CreatedAtMS == 0 {
		ins.CreatedAtMS = nowMS()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("stage proactive insight begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT COUNT(1) FROM proactive_insights
WHERE user_id = ? AND insight_type = ? AND is_surfaced = 0 AND is_dismissed = 0`,
		ins.UserID, ins.InsightType)
	var pending int
	if err := row.Scan(&pending); err != nil {
		return false, fmt.Errorf("stage proactive insight check: %w", err)
	}
	if pending > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO proactive_insights(id, user_id, insight_type, title, message, priority, is_surfaced, is_dismissed, expires_at_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		ins.ID, ins.UserID, ins.InsightType, ins.Title, ins.Message, ins.Priority, ins.ExpiresAtMS, ins.CreatedAtMS); err != nil {
		return false, fmt.Errorf("stage proactive insight insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("stage proactive insight commit: %w", err)
	}
	return true, nil
}

// ListPendingProactiveInsights returns unexpired, unsurfaced, undismissed
// insights by descending priority.
func (s *SQLiteStore) ListPendingProactiveInsights(ctx context.Context, userID string, limit int) ([]ProactiveInsight, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, insight_type, title, message, priority, is_surfaced, is_dismissed, expires_at_ms, created_at_ms
FROM proactive_insights
WHERE user_id = ? AND is_surfaced = 0 AND is_dismissed = 0 AND expires_at_ms > ?
ORDER BY priority DESC, created_at_ms ASC, rowid ASC
LIMIT ?`, userID, nowMS(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending proactive insights: %w", err)
	}
	defer rows.Close()

	out := []ProactiveInsight{}
	for rows.Next() {
		var p ProactiveInsight
		var surfaced, dismissed int
		if err := rows.Scan(&p.ID, &p.UserID, &p.InsightType, &p.Title, &p.Message, &p.Priority, &surfaced, &dismissed, &p.ExpiresAtMS, &p.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan proactive insight: %w", err)
		}
		p.Surfaced = surfaced != 0
		p.Dismissed = dismissed != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proactive insights: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkInsightSurfaced(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE proactive_insights SET is_surfaced = 1
WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("mark insight surfaced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DismissInsight(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE proactive_insights SET is_dismissed = 1
WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("dismiss insight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) InsertRitual(ctx context.Context, rit RitualSummary) (RitualSummary, error) {
	if rit.ID == "" {
		rit.ID = "rit-" + uuid.NewString()
	}
	if rit.CreatedAtMS == 0 {
		rit.CreatedAtMS = nowMS()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ritual_summaries(id, user_id, ritual_type, summary, accomplishments_json, goals_reviewed_json, intentions_json, mood_trend, growth_json, period_start_ms, period_end_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rit.ID, rit.UserID, rit.RitualType, rit.Summary,
		encodeList(rit.Accomplishments), encodeList(rit.GoalsReviewed),
		encodeList(rit.Intentions), rit.MoodTrend, encodeList(rit.GrowthHighlights),
		rit.PeriodStartMS, rit.PeriodEndMS, rit.CreatedAtMS)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("insert ritual: %w", err)
	}
	return rit, nil
}

func (s *SQLiteStore) ListRituals(ctx context.Context, userID string, limit int) ([]RitualSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, ritual_type, summary, accomplishments_json, goals_reviewed_json, intentions_json, mood_trend, growth_json, period_start_ms, period_end_ms, created_at_ms
FROM ritual_summaries
WHERE user_id = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list rituals: %w", err)
	}
	defer rows.Close()

	out := []RitualSummary{}
	for rows.Next() {
		var r RitualSummary
		var accomplishments, goals, intentions, growth string
		if err := rows.Scan(&r.ID, &r.UserID, &r.RitualType, &r.Summary, &accomplishments, &goals, &intentions, &r.MoodTrend, &growth, &r.PeriodStartMS, &r.PeriodEndMS, &r.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan ritual: %w", err)
		}
		r.Accomplishments = decodeList(accomplishments)
		r.GoalsReviewed = decodeList(goals)
		r.Intentions = decodeList(intentions)
		r.GrowthHighlights = decodeList(growth)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rituals: %w", err)
	}
	return out, nil
}

// ListUserIDs returns every user with any pipeline state; the scheduler
// iterates this set for its periodic jobs.
func (s *SQLiteStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id FROM memory_facts
UNION
SELECT user_id FROM conversation_summaries
UNION
SELECT user_id FROM emotional_patterns`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddMetric(ctx context.Context, metric string, value float64, labels map[string]string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_metrics(metric, value, labels_json, created_at_ms)
VALUES(?, ?, ?, ?)`, metric, value, encodeMap(labels), nowMS())
	if err != nil {
		return fmt.Errorf("add metric: %w", err)
	}
	return nil
}

package memory

import "context"

// CompleteFunc issues one blocking LLM call and returns the assistant text.
// The pipeline takes a function rather than a concrete client so tests can
// substitute canned outputs.
type CompleteFunc func(ctx context.Context, system, user string, temperature float64) (string, error)

// Store is the persistence surface the pipeline stages depend on.
type Store interface {
	UpsertFact(ctx context.Context, fact MemoryFact) (MemoryFact, error)
	PutExplicitFact(ctx context.Context, userID string, category FactCategory, key, value string) (MemoryFact, error)
	DeleteFact(ctx context.Context, userID, id string) error
	ListFacts(ctx context.Context, userID string, category FactCategory, limit int) ([]MemoryFact, error)
	ListStaleGoals(ctx context.Context, userID string, beforeMS int64, limit int) ([]MemoryFact, error)

	InsertSummary(ctx context.Context, sum ConversationSummary) (ConversationSummary, error)
	ListSummaries(ctx context.Context, userID string, limit int) ([]ConversationSummary, error)
	ListSummariesSince(ctx context.Context, userID string, sinceMS int64) ([]ConversationSummary, error)

	InsertEmotion(ctx context.Context, ev EmotionalPattern) (EmotionalPattern, error)
	ListEmotions(ctx context.Context, userID string, limit int) ([]EmotionalPattern, error)
	ListEmotionsSince(ctx context.Context, userID string, sinceMS int64) ([]EmotionalPattern, error)

	AppendIdentity(ctx context.Context, userID string, dimension Dimension, delta float64, note string) (IdentityEvolution, error)
	ListIdentity(ctx context.Context, userID string, limit int) ([]IdentityEvolution, error)
	ListIdentitySince(ctx context.Context, userID string, sinceMS int64) ([]IdentityEvolution, error)

	InsertBehavioralInsight(ctx context.Context, ins BehavioralInsight) (BehavioralInsight, error)
	HasOpenBehavioralInsight(ctx context.Context, userID string, patternType PatternType) (bool, error)
	AcknowledgeBehavioralInsight(ctx context.Context, userID, id string) error
	ListBehavioralInsightsSince(ctx context.Context, userID string, sinceMS int64) ([]BehavioralInsight, error)

	StageProactiveInsight(ctx context.Context, ins ProactiveInsight) (bool, error)
	ListPendingProactiveInsights(ctx context.Context, userID string, limit int) ([]ProactiveInsight, error)
	MarkInsightSurfaced(ctx context.Context, userID, id string) error
	DismissInsight(ctx context.Context, userID, id string) error

	InsertRitual(ctx context.Context, rit RitualSummary) (RitualSummary, error)
	ListRituals(ctx context.Context, userID string, limit int) ([]RitualSummary, error)

	ListUserIDs(ctx context.Context) ([]string, error)
	AddMetric(ctx context.Context, metric string, value float64, labels map[string]string) error

	Close() error
}

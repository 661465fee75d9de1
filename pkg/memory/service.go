package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotsetgreg/companion/pkg/config"
	"github.com/dotsetgreg/companion/pkg/logger"
)

// Service wires the store and the four pipeline stages behind one facade.
// The HTTP gateway, CLI, and scheduler all talk to the pipeline through it.
type Service struct {
	store       Store
	extractor   *Extractor
	assembler   *Assembler
	scanner     *Scanner
	synthesizer *Synthesizer
	log         zerolog.Logger
}

// NewService opens the companion database under the workspace and builds the
// pipeline stages. complete is the blocking LLM call shared by all stages.
func NewService(cfg *config.Config, complete CompleteFunc) (*Service, error) {
	dbPath := filepath.Join(cfg.WorkspacePath(), "state", "companion.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return NewServiceWithStore(cfg, store, complete), nil
}

// NewServiceWithStore builds a Service over an existing store. Tests use it
// with a temp-file store and a stub complete function.
func NewServiceWithStore(cfg *config.Config, store Store, complete CompleteFunc) *Service {
	llmTimeout := time.Duration(cfg.Memory.LLMTimeoutSeconds) * time.Second
	insightTTL := time.Duration(cfg.Memory.InsightExpiryDays) * 24 * time.Hour
	staleGoalAge := time.Duration(cfg.Memory.StaleGoalDays) * 24 * time.Hour

	return &Service{
		store:       store,
		extractor:   NewExtractor(store, complete, llmTimeout),
		assembler:   NewAssembler(store),
		scanner:     NewScanner(store, complete, llmTimeout, insightTTL, staleGoalAge),
		synthesizer: NewSynthesizer(store, complete, llmTimeout),
		log:         logger.Component("memory"),
	}
}

func (s *Service) Close() error {
	return s.store.Close()
}

// Store exposes the underlying row store for read endpoints and the scheduler.
func (s *Service) Store() Store {
	return s.store
}

// ExtractFromConversation runs the extraction pipeline on a finished transcript.
func (s *Service) ExtractFromConversation(ctx context.Context, userID, conversationID string, turns []Turn) (ExtractionCounts, error) {
	return s.extractor.Extract(ctx, userID, conversationID, turns)
}

// CognitiveState assembles the bounded per-turn context snapshot.
func (s *Service) CognitiveState(ctx context.Context, userID string) (CognitiveState, error) {
	return s.assembler.Assemble(ctx, userID)
}

// ScanInsights runs the proactive sweep and returns the top pending insights.
func (s *Service) ScanInsights(ctx context.Context, userID string) ([]ProactiveInsight, error) {
	return s.scanner.Scan(ctx, userID)
}

// GenerateRitual produces and persists a daily or weekly rollup.
func (s *Service) GenerateRitual(ctx context.Context, userID string, ritualType RitualType) (RitualSummary, error) {
	return s.synthesizer.Generate(ctx, userID, ritualType)
}

// RememberFact records a user-entered fact, overwriting any inferred value
// under the same key.
func (s *Service) RememberFact(ctx context.Context, userID string, category FactCategory, key, value string) (MemoryFact, error) {
	if !isValidCategory(category) {
		return MemoryFact{}, fmt.Errorf("unknown fact category %q", category)
	}
	return s.store.PutExplicitFact(ctx, userID, category, key, value)
}

func (s *Service) ForgetFact(ctx context.Context, userID, id string) error {
	return s.store.DeleteFact(ctx, userID, id)
}

func (s *Service) Facts(ctx context.Context, userID string, category FactCategory, limit int) ([]MemoryFact, error) {
	if category != "" && !isValidCategory(category) {
		return nil, fmt.Errorf("unknown fact category %q", category)
	}
	return s.store.ListFacts(ctx, userID, category, limit)
}

func (s *Service) Summaries(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	return s.store.ListSummaries(ctx, userID, limit)
}

func (s *Service) Emotions(ctx context.Context, userID string, limit int) ([]EmotionalPattern, error) {
	return s.store.ListEmotions(ctx, userID, limit)
}

func (s *Service) Identity(ctx context.Context, userID string, limit int) ([]IdentityEvolution, error) {
	return s.store.ListIdentity(ctx, userID, limit)
}

func (s *Service) Rituals(ctx context.Context, userID string, limit int) ([]RitualSummary, error) {
	return s.store.ListRituals(ctx, userID, limit)
}

func (s *Service) MarkInsightSurfaced(ctx context.Context, userID, id string) error {
	return s.store.MarkInsightSurfaced(ctx, userID, id)
}

func (s *Service) DismissInsight(ctx context.Context, userID, id string) error {
	return s.store.DismissInsight(ctx, userID, id)
}

func (s *Service) AcknowledgeBehavioralInsight(ctx context.Context, userID, id string) error {
	return s.store.AcknowledgeBehavioralInsight(ctx, userID, id)
}

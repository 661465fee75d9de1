package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotsetgreg/companion/pkg/logger"
)

const (
	minExtractableTurns    = 4
	maxExtractedFacts      = 8
	extractionTemperature  = 0.2
	defaultFactConfidence  = 0.8
	defaultEventIntensity  = 0.5
	maxIdentityDeltaPerRun = 1.0
)

// Extractor turns finished conversation transcripts into durable memory rows.
type Extractor struct {
	store    Store
	complete CompleteFunc
	timeout  time.Duration
	log      zerolog.Logger
}

func NewExtractor(store Store, complete CompleteFunc, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Extractor{
		store:    store,
		complete: complete,
		timeout:  timeout,
		log:      logger.Component("extractor"),
	}
}

// extractionPayload mirrors the JSON contract of the extraction prompt.
// Pointer fields distinguish "absent" from zero so defaults apply cleanly.
type extractionPayload struct {
	MemoryFacts []extractedFact    `json:"memory_facts"`
	Summary     *extractedSummary  `json:"summary"`
	Emotions    []extractedEmotion `json:"emotional_patterns"`
	Signals     []extractedSignal  `json:"identity_signals"`
}

type extractedFact struct {
	Category   string   `json:"category"`
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence"`
	Source     string   `json:"source"`
}

type extractedSummary struct {
	Text              string   `json:"text"`
	EmotionalTone     string   `json:"emotional_tone"`
	KeyTopics         []string `json:"key_topics"`
	DecisionsMade     []string `json:"decisions_made"`
	UnresolvedThreads []string `json:"unresolved_threads"`
	Milestones        []string `json:"milestones"`
}

type extractedEmotion struct {
	Emotion   string   `json:"emotion"`
	Intensity *float64 `json:"intensity"`
	Polarity  string   `json:"polarity"`
	Context   string   `json:"context"`
}

type extractedSignal struct {
	Dimension  string   `json:"dimension"`
	ScoreDelta *float64 `json:"score_delta"`
	Evidence   string   `json:"evidence"`
}

// Extract runs the full extraction pass for one conversation. The four
// persistence sections are independent: a failure in one is logged and the
// others still commit.
func (e *Extractor) Extract(ctx context.Context, userID, conversationID string, turns []Turn) (ExtractionCounts, error) {
	counts := ExtractionCounts{}
	if len(turns) < minExtractableTurns {
		return counts, ErrConversationTooShort
	}
	if strings.TrimSpace(userID) == "" {
		return counts, fmt.Errorf("extract: empty user_id")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.complete(callCtx, extractionSystemPrompt, buildExtractionUserPrompt(turns), extractionTemperature)
	if err != nil {
		return counts, fmt.Errorf("extraction LLM call: %w", err)
	}

	block, err := ExtractJSONObject(raw)
	if err != nil {
		return counts, fmt.Errorf("extraction response: %w", err)
	}
	var payload extractionPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return counts, fmt.Errorf("parse extraction payload: %w", err)
	}

	counts.Facts = e.persistFacts(ctx, userID, payload.MemoryFacts)
	counts.Summaries = e.persistSummary(ctx, userID, conversationID, payload.Summary)
	counts.Events = e.persistEmotions(ctx, userID, conversationID, payload.Emotions)
	counts.Signals = e.persistSignals(ctx, userID, payload.Signals)

	_ = e.store.AddMetric(ctx, "extraction_runs", 1, map[string]string{"user_id": userID})

	e.log.Info().
		Str("user_id", userID).
		Int("facts", counts.Facts).
		Int("summaries", counts.Summaries).
		Int("events", counts.Events).
		Int("signals", counts.Signals).
		Msg("extraction complete")
	return counts, nil
}

func (e *Extractor) persistFacts(ctx context.Context, userID string, facts []extractedFact) int {
	if len(facts) > maxExtractedFacts {
		facts = facts[:maxExtractedFacts]
	}
	written := 0
	for _, f := range facts {
		key := strings.TrimSpace(f.Key)
		value := strings.TrimSpace(f.Value)
		if key == "" || value == "" {
			continue
		}
		category := FactCategory(strings.ToLower(strings.TrimSpace(f.Category)))
		if !isValidCategory(category) {
			category = CategoryFact
		}
		confidence := defaultFactConfidence
		if f.Confidence != nil && *f.Confidence > 0 && *f.Confidence <= 1 {
			confidence = *f.Confidence
		}
		_, err := e.store.UpsertFact(ctx, MemoryFact{
			UserID:     userID,
			Category:   category,
			Key:        key,
			Value:      value,
			Confidence: confidence,
			Source:     normalizeSource(strings.ToLower(strings.TrimSpace(f.Source))),
		})
		if err != nil {
			e.log.Warn().Err(err).Str("key", key).Msg("fact upsert failed")
			continue
		}
		written++
	}
	return written
}

func (e *Extractor) persistSummary(ctx context.Context, userID, conversationID string, sum *extractedSummary) int {
	if sum == nil || strings.TrimSpace(sum.Text) == "" {
		return 0
	}
	tone := strings.TrimSpace(sum.EmotionalTone)
	if tone == "" {
		tone = "neutral"
	}
	_, err := e.store.InsertSummary(ctx, ConversationSummary{
		UserID:            userID,
		ConversationID:    conversationID,
		Summary:           strings.TrimSpace(sum.Text),
		EmotionalTone:     tone,
		KeyTopics:         sum.KeyTopics,
		DecisionsMade:     sum.DecisionsMade,
		UnresolvedThreads: sum.UnresolvedThreads,
		Milestones:        sum.Milestones,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("summary insert failed")
		return 0
	}
	return 1
}

func (e *Extractor) persistEmotions(ctx context.Context, userID, conversationID string, events []extractedEmotion) int {
	written := 0
	for _, ev := range events {
		emotion := strings.TrimSpace(ev.Emotion)
		if emotion == "" {
			continue
		}
		intensity := defaultEventIntensity
		if ev.Intensity != nil && *ev.Intensity >= 0 && *ev.Intensity <= 1 {
			intensity = *ev.Intensity
		}
		_, err := e.store.InsertEmotion(ctx, EmotionalPattern{
			UserID:         userID,
			Emotion:        emotion,
			Intensity:      intensity,
			Polarity:       normalizePolarity(strings.ToLower(strings.TrimSpace(ev.Polarity))),
			Context:        strings.TrimSpace(ev.Context),
			ConversationID: conversationID,
		})
		if err != nil {
			e.log.Warn().Err(err).Str("emotion", emotion).Msg("emotion insert failed")
			continue
		}
		written++
	}
	return written
}

func (e *Extractor) persistSignals(ctx context.Context, userID string, signals []extractedSignal) int {
	written := 0
	for _, sig := range signals {
		dimension := Dimension(strings.ToLower(strings.TrimSpace(sig.Dimension)))
		if !isValidDimension(dimension) {
			e.log.Debug().Str("dimension", string(dimension)).Msg("skipping unknown identity dimension")
			continue
		}
		if sig.ScoreDelta == nil {
			continue
		}
		delta := *sig.ScoreDelta
		if delta > maxIdentityDeltaPerRun {
			delta = maxIdentityDeltaPerRun
		}
		if delta < -maxIdentityDeltaPerRun {
			delta = -maxIdentityDeltaPerRun
		}
		_, err := e.store.AppendIdentity(ctx, userID, dimension, delta, strings.TrimSpace(sig.Evidence))
		if err != nil {
			e.log.Warn().Err(err).Str("dimension", string(dimension)).Msg("identity append failed")
			continue
		}
		written++
	}
	return written
}

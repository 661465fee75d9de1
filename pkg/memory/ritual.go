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
	ritualTemperature  = 0.7
	maxRitualGoalFacts = 10
)

// Stored ritual_type values.
const (
	ritualTypeDailyRecap  = "daily_recap"
	ritualTypeWeeklyReset = "weekly_reset"
)

// Synthesizer produces the periodic daily-recap and weekly-reset rollups.
type Synthesizer struct {
	store    Store
	complete CompleteFunc
	timeout  time.Duration
	log      zerolog.Logger
}

func NewSynthesizer(store Store, complete CompleteFunc, timeout time.Duration) *Synthesizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{
		store:    store,
		complete: complete,
		timeout:  timeout,
		log:      logger.Component("ritual"),
	}
}

type ritualPayload struct {
	Summary          string   `json:"summary"`
	Accomplishments  []string `json:"accomplishments"`
	GoalsReviewed    []string `json:"goals_reviewed"`
	Intentions       []string `json:"intentions"`
	MoodTrend        string   `json:"mood_trend"`
	GrowthHighlights []string `json:"growth_highlights"`
}

// Generate gathers the ritual window, makes one LLM call, and persists the
// rollup. An unparseable model reply degrades to a record carrying the raw
// text as summary rather than failing the ritual.
func (sy *Synthesizer) Generate(ctx context.Context, userID string, ritualType RitualType) (RitualSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return RitualSummary{}, fmt.Errorf("ritual: empty user_id")
	}

	var window time.Duration
	var storedType string
	switch ritualType {
	case RitualDaily:
		window = 24 * time.Hour
		storedType = ritualTypeDailyRecap
	case RitualWeekly:
		window = 7 * 24 * time.Hour
		storedType = ritualTypeWeeklyReset
	default:
		return RitualSummary{}, fmt.Errorf("%w: %q", ErrUnknownRitualType, ritualType)
	}

	end := time.Now()
	start := end.Add(-window)
	sinceMS := start.UnixMilli()

	summaries, err := sy.store.ListSummariesSince(ctx, userID, sinceMS)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual summaries: %w", err)
	}
	emotions, err := sy.store.ListEmotionsSince(ctx, userID, sinceMS)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual emotions: %w", err)
	}
	identity, err := sy.store.ListIdentitySince(ctx, userID, sinceMS)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual identity: %w", err)
	}
	goals, err := sy.store.ListFacts(ctx, userID, CategoryGoal, maxRitualGoalFacts)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual goals: %w", err)
	}
	behavioral, err := sy.store.ListBehavioralInsightsSince(ctx, userID, sinceMS)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual behavioral insights: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, sy.timeout)
	defer cancel()

	raw, err := sy.complete(callCtx, ritualSystemPrompt,
		buildRitualUserPrompt(ritualType, summaries, emotions, identity, goals, behavioral),
		ritualTemperature)
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual LLM call: %w", err)
	}

	payload := parseRitualPayload(raw)
	if payload.Summary == "" {
		sy.log.Warn().Str("user_id", userID).Msg("ritual reply unparseable, storing raw text")
		payload = ritualPayload{Summary: strings.TrimSpace(raw)}
	}

	rit, err := sy.store.InsertRitual(ctx, RitualSummary{
		UserID:           userID,
		RitualType:       storedType,
		Summary:          payload.Summary,
		Accomplishments:  emptyIfNil(payload.Accomplishments),
		GoalsReviewed:    emptyIfNil(payload.GoalsReviewed),
		Intentions:       emptyIfNil(payload.Intentions),
		MoodTrend:        payload.MoodTrend,
		GrowthHighlights: emptyIfNil(payload.GrowthHighlights),
		PeriodStartMS:    start.UnixMilli(),
		PeriodEndMS:      end.UnixMilli(),
	})
	if err != nil {
		return RitualSummary{}, fmt.Errorf("ritual insert: %w", err)
	}

	_ = sy.store.AddMetric(ctx, "ritual_runs", 1, map[string]string{"user_id": userID, "type": storedType})

	sy.log.Info().Str("user_id", userID).Str("type", storedType).Msg("ritual generated")
	return rit, nil
}

func parseRitualPayload(raw string) ritualPayload {
	var payload ritualPayload
	block, err := ExtractJSONObject(raw)
	if err != nil {
		return ritualPayload{}
	}
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return ritualPayload{}
	}
	payload.Summary = strings.TrimSpace(payload.Summary)
	return payload
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

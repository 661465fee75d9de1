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
	moodWindowSize        = 5
	moodDeclineThreshold  = 3
	highIntensityMean     = 0.75
	minSummariesForLLM    = 3
	maxDetectedPatterns   = 3
	maxStaleGoals         = 3
	maxThreadInsights     = 2
	scanResultLimit       = 3
	detectionTemperature  = 0.3
	insightExpiryDefault  = 3 * 24 * time.Hour
	staleGoalAgeDefault   = 7 * 24 * time.Hour
)

// Priorities order staged insights for display. Pattern alerts map severity
// significant/moderate/mild to 8/6/4; the heuristic checks sit in between.
const (
	priorityMoodDecline     = 7
	priorityHighIntensity   = 6
	priorityForgottenGoal   = 5
	priorityIdentityBoost   = 5
	priorityUnresolved      = 4
)

// Scanner runs the proactive sweep over a user's recent activity. It is
// independent of any single conversation and safe to re-run: staging is
// deduplicated per insight type.
type Scanner struct {
	store        Store
	complete     CompleteFunc
	timeout      time.Duration
	insightTTL   time.Duration
	staleGoalAge time.Duration
	log          zerolog.Logger
}

func NewScanner(store Store, complete CompleteFunc, timeout, insightTTL, staleGoalAge time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if insightTTL <= 0 {
		insightTTL = insightExpiryDefault
	}
	if staleGoalAge <= 0 {
		staleGoalAge = staleGoalAgeDefault
	}
	return &Scanner{
		store:        store,
		complete:     complete,
		timeout:      timeout,
		insightTTL:   insightTTL,
		staleGoalAge: staleGoalAge,
		log:          logger.Component("insights"),
	}
}

type detectionPayload struct {
	Patterns []struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
		Suggestion  string `json:"suggestion"`
	} `json:"patterns"`
	IdentityReinforcement string `json:"identity_reinforcement"`
}

// Scan runs steps A-D and returns the top pending insights for display. The
// caller marks them surfaced; Scan itself never does. A pattern-detection LLM
// failure degrades step C only.
func (sc *Scanner) Scan(ctx context.Context, userID string) ([]ProactiveInsight, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("scan: empty user_id")
	}

	emotions, err := sc.store.ListEmotions(ctx, userID, cognitiveEmotionWindow)
	if err != nil {
		return nil, fmt.Errorf("scan emotions: %w", err)
	}
	sc.scanMood(ctx, userID, emotions)

	if err := sc.scanStaleGoals(ctx, userID); err != nil {
		sc.log.Warn().Err(err).Str("user_id", userID).Msg("stale goal check failed")
	}

	summaries, err := sc.store.ListSummaries(ctx, userID, cognitiveSummaryWindow)
	if err != nil {
		return nil, fmt.Errorf("scan summaries: %w", err)
	}
	if err := sc.scanPatterns(ctx, userID, summaries); err != nil {
		sc.log.Warn().Err(err).Str("user_id", userID).Msg("pattern detection degraded")
	}
	sc.scanThreads(ctx, userID, summaries)

	_ = sc.store.AddMetric(ctx, "insight_scans", 1, map[string]string{"user_id": userID})

	return sc.store.ListPendingProactiveInsights(ctx, userID, scanResultLimit)
}

// scanMood applies both step-A checks to the 5 most recent emotional events.
// Fewer than 5 rows means not enough signal; both checks are skipped.
func (sc *Scanner) scanMood(ctx context.Context, userID string, emotions []EmotionalPattern) {
	if len(emotions) < moodWindowSize {
		return
	}
	window := emotions[:moodWindowSize]

	negatives := 0
	firstNegative := ""
	var intensitySum float64
	for _, e := range window {
		if e.Polarity == PolarityNegative {
			negatives++
			if firstNegative == "" {
				firstNegative = e.Emotion
			}
		}
		intensitySum += e.Intensity
	}

	if negatives >= moodDeclineThreshold {
		sc.stage(ctx, ProactiveInsight{
			UserID:      userID,
			InsightType: InsightMoodDecline,
			Title:       "Rough stretch lately?",
			Message:     fmt.Sprintf("I've noticed a lot of %s in our recent conversations. Want to talk about what's been weighing on you?", firstNegative),
			Priority:    priorityMoodDecline,
		})
	}
	if intensitySum/float64(len(window)) > highIntensityMean {
		sc.stage(ctx, ProactiveInsight{
			UserID:      userID,
			InsightType: InsightHighIntensity,
			Title:       "Things feel intense",
			Message:     "Your recent conversations have carried a lot of emotional intensity. It might be worth taking a breather.",
			Priority:    priorityHighIntensity,
		})
	}
}

func (sc *Scanner) scanStaleGoals(ctx context.Context, userID string) error {
	cutoff := time.Now().Add(-sc.staleGoalAge).UnixMilli()
	stale, err := sc.store.ListStaleGoals(ctx, userID, cutoff, maxStaleGoals)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	names := make([]string, 0, len(stale))
	for _, g := range stale {
		names = append(names, g.Value)
	}
	sc.stage(ctx, ProactiveInsight{
		UserID:      userID,
		InsightType: InsightForgottenGoal,
		Title:       "A goal is gathering dust",
		Message:     fmt.Sprintf("You haven't mentioned these in a while: %s. Still on the radar?", strings.Join(names, "; ")),
		Priority:    priorityForgottenGoal,
	})
	return nil
}

func (sc *Scanner) scanPatterns(ctx context.Context, userID string, summaries []ConversationSummary) error {
	if len(summaries) < minSummariesForLLM {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	raw, err := sc.complete(callCtx, patternDetectionSystemPrompt, buildPatternDetectionUserPrompt(summaries), detectionTemperature)
	if err != nil {
		return fmt.Errorf("pattern detection LLM call: %w", err)
	}
	block, err := ExtractJSONObject(raw)
	if err != nil {
		return fmt.Errorf("pattern detection response: %w", err)
	}
	var payload detectionPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return fmt.Errorf("parse pattern detection payload: %w", err)
	}

	patterns := payload.Patterns
	if len(patterns) > maxDetectedPatterns {
		patterns = patterns[:maxDetectedPatterns]
	}
	for _, p := range patterns {
		patternType := PatternType(strings.ToLower(strings.TrimSpace(p.Type)))
		if !isValidPatternType(patternType) {
			sc.log.Debug().Str("type", string(patternType)).Msg("skipping unknown pattern type")
			continue
		}
		open, err := sc.store.HasOpenBehavioralInsight(ctx, userID, patternType)
		if err != nil {
			sc.log.Warn().Err(err).Msg("behavioral dedup check failed")
			continue
		}
		if open {
			continue
		}
		severity := normalizeSeverity(strings.ToLower(strings.TrimSpace(p.Severity)))
		if _, err := sc.store.InsertBehavioralInsight(ctx, BehavioralInsight{
			UserID:       userID,
			PatternType:  patternType,
			Description:  strings.TrimSpace(p.Description),
			Severity:     severity,
			Suggestion:   strings.TrimSpace(p.Suggestion),
			DetectedFrom: "summary_scan",
		}); err != nil {
			sc.log.Warn().Err(err).Str("pattern", string(patternType)).Msg("behavioral insight insert failed")
			continue
		}
		sc.stage(ctx, ProactiveInsight{
			UserID:      userID,
			InsightType: InsightPatternAlert,
			Title:       fmt.Sprintf("Pattern noticed: %s", strings.ReplaceAll(string(patternType), "_", " ")),
			Message:     strings.TrimSpace(p.Description + " " + p.Suggestion),
			Priority:    patternAlertPriority(severity),
		})
	}

	if msg := strings.TrimSpace(payload.IdentityReinforcement); msg != "" {
		sc.stage(ctx, ProactiveInsight{
			UserID:      userID,
			InsightType: InsightIdentityBoost,
			Title:       "Growth worth naming",
			Message:     msg,
			Priority:    priorityIdentityBoost,
		})
	}
	return nil
}

func patternAlertPriority(severity Severity) int {
	switch severity {
	case SeveritySignificant:
		return 8
	case SeverityModerate:
		return 6
	default:
		return 4
	}
}

func (sc *Scanner) scanThreads(ctx context.Context, userID string, summaries []ConversationSummary) {
	seen := map[string]bool{}
	threads := []string{}
	for _, s := range summaries {
		for _, t := range s.UnresolvedThreads {
			t = strings.TrimSpace(t)
			if t == "" || seen[strings.ToLower(t)] {
				continue
			}
			seen[strings.ToLower(t)] = true
			threads = append(threads, t)
			if len(threads) >= maxThreadInsights {
				break
			}
		}
		if len(threads) >= maxThreadInsights {
			break
		}
	}
	if len(threads) == 0 {
		return
	}
	sc.stage(ctx, ProactiveInsight{
		UserID:      userID,
		InsightType: InsightUnresolvedThread,
		Title:       "Loose ends",
		Message:     fmt.Sprintf("We left these open: %s. Want to pick one back up?", strings.Join(threads, "; ")),
		Priority:    priorityUnresolved,
	})
}

func (sc *Scanner) stage(ctx context.Context, ins ProactiveInsight) {
	ins.ExpiresAtMS = time.Now().Add(sc.insightTTL).UnixMilli()
	inserted, err := sc.store.StageProactiveInsight(ctx, ins)
	if err != nil {
		sc.log.Warn().Err(err).Str("type", ins.InsightType).Msg("insight staging failed")
		return
	}
	if !inserted {
		sc.log.Debug().Str("type", ins.InsightType).Msg("insight already pending, skipped")
	}
}

package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestScanner(store *SQLiteStore, complete CompleteFunc) *Scanner {
	return NewScanner(store, complete, time.Second, 3*24*time.Hour, 7*24*time.Hour)
}

func failingComplete(ctx context.Context, system, user string, temperature float64) (string, error) {
	return "", errors.New("gateway unavailable")
}

func pendingByType(t *testing.T, store *SQLiteStore, userID string) map[string][]ProactiveInsight {
	t.Helper()
	pending, err := store.ListPendingProactiveInsights(context.Background(), userID, 50)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	byType := map[string][]ProactiveInsight{}
	for _, p := range pending {
		byType[p.InsightType] = append(byType[p.InsightType], p)
	}
	return byType
}

func TestScanMoodDecline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, e := range []struct {
		emotion  string
		polarity Polarity
	}{
		{"frustrated", PolarityNegative},
		{"anxious", PolarityNegative},
		{"calm", PolarityNeutral},
		{"drained", PolarityNegative},
		{"hopeful", PolarityPositive},
	} {
		if _, err := store.InsertEmotion(ctx, EmotionalPattern{
			UserID: "u1", Emotion: e.emotion, Intensity: 0.5, Polarity: e.polarity,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if _, err := newTestScanner(store, failingComplete).Scan(ctx, "u1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	byType := pendingByType(t, store, "u1")
	decline := byType[InsightMoodDecline]
	if len(decline) != 1 {
		t.Fatalf("mood_decline insights = %d, want 1", len(decline))
	}
	// The most recent negative emotion in the window is named.
	if !strings.Contains(decline[0].Message, "drained") {
		t.Fatalf("message = %q, should name the first negative emotion", decline[0].Message)
	}
	if decline[0].Priority != priorityMoodDecline {
		t.Fatalf("priority = %d", decline[0].Priority)
	}
	if len(byType[InsightHighIntensity]) != 0 {
		t.Fatal("high_intensity staged at mean intensity 0.5")
	}
}

func TestScanHighIntensity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.InsertEmotion(ctx, EmotionalPattern{
			UserID: "u1", Emotion: "elated", Intensity: 0.9, Polarity: PolarityPositive,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if _, err := newTestScanner(store, failingComplete).Scan(ctx, "u1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	byType := pendingByType(t, store, "u1")
	if len(byType[InsightHighIntensity]) != 1 {
		t.Fatalf("high_intensity = %d, want 1", len(byType[InsightHighIntensity]))
	}
	if len(byType[InsightMoodDecline]) != 0 {
		t.Fatal("mood_decline staged with zero negative events")
	}
}

func TestScanSkipsMoodChecksUnderFiveEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := store.InsertEmotion(ctx, EmotionalPattern{
			UserID: "u1", Emotion: "angry", Intensity: 0.95, Polarity: PolarityNegative,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if _, err := newTestScanner(store, failingComplete).Scan(ctx, "u1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	byType := pendingByType(t, store, "u1")
	if len(byType[InsightMoodDecline]) != 0 || len(byType[InsightHighIntensity]) != 0 {
		t.Fatal("mood checks ran with fewer than 5 events")
	}
}

func TestScanForgottenGoal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-8 * 24 * time.Hour).UnixMilli()

	if _, err := store.UpsertFact(ctx, MemoryFact{
		UserID: "u1", Category: CategoryGoal, Key: "write_book", Value: "Write a novel",
		Confidence: 0.8, Source: SourceInferred, LastReinforcedMS: old, CreatedAtMS: old,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := newTestScanner(store, failingComplete).Scan(ctx, "u1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	byType := pendingByType(t, store, "u1")
	goals := byType[InsightForgottenGoal]
	if len(goals) != 1 {
		t.Fatalf("forgotten_goal = %d, want 1", len(goals))
	}
	if !strings.Contains(goals[0].Message, "Write a novel") {
		t.Fatalf("message = %q", goals[0].Message)
	}
}

func TestScanTwiceNeverDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.InsertEmotion(ctx, EmotionalPattern{
			UserID: "u1", Emotion: "gloomy", Intensity: 0.8, Polarity: PolarityNegative,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	old := time.Now().Add(-8 * 24 * time.Hour).UnixMilli()
	if _, err := store.UpsertFact(ctx, MemoryFact{
		UserID: "u1", Category: CategoryGoal, Key: "old_goal", Value: "Old goal",
		Confidence: 0.8, Source: SourceInferred, LastReinforcedMS: old, CreatedAtMS: old,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sc := newTestScanner(store, failingComplete)
	if _, err := sc.Scan(ctx, "u1"); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if _, err := sc.Scan(ctx, "u1"); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	for insightType, rows := range pendingByType(t, store, "u1") {
		if len(rows) > 1 {
			t.Fatalf("%s staged %d times while pending", insightType, len(rows))
		}
	}
}

func TestScanPatternDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.InsertSummary(ctx, ConversationSummary{
			UserID: "u1", Summary: "put off the same task again", EmotionalTone: "guilty",
			UnresolvedThreads: []string{"finish tax return"},
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	reply := `{
		"patterns": [
			{"type": "procrastination", "description": "Keeps deferring the tax return", "severity": "significant", "suggestion": "Block 30 minutes tomorrow morning"}
		],
		"identity_reinforcement": "You keep showing up even on hard weeks."
	}`
	if _, err := newTestScanner(store, stubComplete(reply, nil)).Scan(ctx, "u1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	behavioral, err := store.ListBehavioralInsightsSince(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list behavioral: %v", err)
	}
	if len(behavioral) != 1 || behavioral[0].PatternType != PatternProcrastination {
		t.Fatalf("behavioral = %+v", behavioral)
	}

	byType := pendingByType(t, store, "u1")
	alerts := byType[InsightPatternAlert]
	if len(alerts) != 1 {
		t.Fatalf("pattern_alert = %d", len(alerts))
	}
	if alerts[0].Priority != 8 {
		t.Fatalf("priority = %d, significant maps to 8", alerts[0].Priority)
	}
	boosts := byType[InsightIdentityBoost]
	if len(boosts) != 1 || boosts[0].Priority != priorityIdentityBoost {
		t.Fatalf("identity boost = %+v", boosts)
	}
	threads := byType[InsightUnresolvedThread]
	if len(threads) != 1 || !strings.Contains(threads[0].Message, "finish tax return") {
		t.Fatalf("unresolved thread = %+v", threads)
	}
}

func TestScanPatternDedupAgainstOpenBehavioral(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertBehavioralInsight(ctx, BehavioralInsight{
		UserID: "u1", PatternType: PatternProcrastination, Description: "earlier detection", Severity: SeverityMild,
	}); err != nil {
		t.Fatalf("seed behavioral: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.InsertSummary(ctx, ConversationSummary{UserID: "u1", Summary: "s", EmotionalTone: "flat"}); err != nil {
			t.Fatalf("seed summary: %v", err)
		}
	}

	reply := `{"patterns": [{"type": "procrastination", "description": "again", "severity": "moderate", "suggestion": ""}], "identity_reinforcement": ""}`
	if _, err := newTestScanner(store, stubComplete(reply, nil)).Scan(ctx, "u1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	behavioral, _ := store.ListBehavioralInsightsSince(ctx, "u1", 0)
	if len(behavioral) != 1 {
		t.Fatalf("behavioral rows = %d, unacknowledged duplicate must be suppressed", len(behavioral))
	}
	if len(pendingByType(t, store, "u1")[InsightPatternAlert]) != 0 {
		t.Fatal("pattern_alert staged for a suppressed duplicate")
	}
}

func TestScanDegradesWhenDetectionFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.InsertEmotion(ctx, EmotionalPattern{
			UserID: "u1", Emotion: "worried", Intensity: 0.6, Polarity: PolarityNegative,
		}); err != nil {
			t.Fatalf("seed emotion: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := store.InsertSummary(ctx, ConversationSummary{
			UserID: "u1", Summary: "s", EmotionalTone: "flat",
			UnresolvedThreads: []string{"open item"},
		}); err != nil {
			t.Fatalf("seed summary: %v", err)
		}
	}

	insights, err := newTestScanner(store, failingComplete).Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("scan must not fail on a detection error: %v", err)
	}
	if len(insights) == 0 {
		t.Fatal("no insights returned")
	}

	byType := pendingByType(t, store, "u1")
	if len(byType[InsightMoodDecline]) != 1 {
		t.Fatal("step A missing after step C failure")
	}
	if len(byType[InsightUnresolvedThread]) != 1 {
		t.Fatal("step D missing after step C failure")
	}
	if len(byType[InsightPatternAlert]) != 0 {
		t.Fatal("pattern_alert staged despite failed detection call")
	}
}

func TestScanReturnsTopThreeByPriority(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Five negative high-intensity events plus a stale goal and threads
	// stage four distinct insight types.
	for i := 0; i < 5; i++ {
		if _, err := store.InsertEmotion(ctx, EmotionalPattern{
			UserID: "u1", Emotion: "overwhelmed", Intensity: 0.9, Polarity: PolarityNegative,
		}); err != nil {
			t.Fatalf("seed emotion: %v", err)
		}
	}
	old := time.Now().Add(-8 * 24 * time.Hour).UnixMilli()
	if _, err := store.UpsertFact(ctx, MemoryFact{
		UserID: "u1", Category: CategoryGoal, Key: "g", Value: "goal",
		Confidence: 0.8, Source: SourceInferred, LastReinforcedMS: old, CreatedAtMS: old,
	}); err != nil {
		t.Fatalf("seed goal: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.InsertSummary(ctx, ConversationSummary{
			UserID: "u1", Summary: "s", EmotionalTone: "flat", UnresolvedThreads: []string{"thread"},
		}); err != nil {
			t.Fatalf("seed summary: %v", err)
		}
	}

	insights, err := newTestScanner(store, failingComplete).Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(insights) != 3 {
		t.Fatalf("returned %d insights, want top 3", len(insights))
	}
	for i := 1; i < len(insights); i++ {
		if insights[i].Priority > insights[i-1].Priority {
			t.Fatal("insights not ordered by descending priority")
		}
	}
	if insights[0].InsightType != InsightMoodDecline {
		t.Fatalf("top insight = %s, want mood_decline at priority 7", insights[0].InsightType)
	}
}

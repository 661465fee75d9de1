package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateRitualStructured(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertSummary(ctx, ConversationSummary{
		UserID: "u1", Summary: "planned the week", EmotionalTone: "focused",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reply := `{
		"summary": "A steady day with real progress on your plan.",
		"accomplishments": ["laid out the week"],
		"goals_reviewed": ["marathon training: on track"],
		"intentions": ["protect the morning run"],
		"mood_trend": "steadying",
		"growth_highlights": ["discipline"]
	}`
	sy := NewSynthesizer(store, stubComplete(reply, nil), time.Second)

	rit, err := sy.Generate(ctx, "u1", RitualDaily)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rit.RitualType != "daily_recap" {
		t.Fatalf("ritual_type = %q", rit.RitualType)
	}
	if rit.Summary != "A steady day with real progress on your plan." {
		t.Fatalf("summary = %q", rit.Summary)
	}
	if len(rit.Accomplishments) != 1 || len(rit.Intentions) != 1 {
		t.Fatalf("arrays = %+v", rit)
	}
	if rit.PeriodEndMS-rit.PeriodStartMS < 23*60*60*1000 {
		t.Fatalf("daily window too small: %d ms", rit.PeriodEndMS-rit.PeriodStartMS)
	}

	stored, err := store.ListRituals(ctx, "u1", 5)
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored rituals = %d err = %v", len(stored), err)
	}
}

func TestGenerateRitualWeeklyWindow(t *testing.T) {
	store := newTestStore(t)
	sy := NewSynthesizer(store, stubComplete(`{"summary": "week done"}`, nil), time.Second)

	rit, err := sy.Generate(context.Background(), "u1", RitualWeekly)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rit.RitualType != "weekly_reset" {
		t.Fatalf("ritual_type = %q", rit.RitualType)
	}
	if rit.PeriodEndMS-rit.PeriodStartMS < 6*24*60*60*1000 {
		t.Fatalf("weekly window too small: %d ms", rit.PeriodEndMS-rit.PeriodStartMS)
	}
}

func TestGenerateRitualProseFallback(t *testing.T) {
	store := newTestStore(t)
	prose := "You had a calm, productive stretch. Keep the streak going tomorrow."
	sy := NewSynthesizer(store, stubComplete(prose, nil), time.Second)

	rit, err := sy.Generate(context.Background(), "u1", RitualDaily)
	if err != nil {
		t.Fatalf("fallback must not fail: %v", err)
	}
	if rit.Summary != prose {
		t.Fatalf("summary = %q, want the raw text", rit.Summary)
	}
	if len(rit.Accomplishments) != 0 || len(rit.GoalsReviewed) != 0 ||
		len(rit.Intentions) != 0 || len(rit.GrowthHighlights) != 0 {
		t.Fatalf("degraded record must carry empty arrays: %+v", rit)
	}

	stored, _ := store.ListRituals(context.Background(), "u1", 5)
	if len(stored) != 1 || stored[0].Summary != prose {
		t.Fatalf("fallback record not persisted: %+v", stored)
	}
}

func TestGenerateRitualUnknownType(t *testing.T) {
	store := newTestStore(t)
	sy := NewSynthesizer(store, stubComplete(`{}`, nil), time.Second)

	_, err := sy.Generate(context.Background(), "u1", RitualType("monthly"))
	if !errors.Is(err, ErrUnknownRitualType) {
		t.Fatalf("expected ErrUnknownRitualType, got %v", err)
	}
}

func TestGenerateRitualLLMFailure(t *testing.T) {
	store := newTestStore(t)
	sy := NewSynthesizer(store, failingComplete, time.Second)

	if _, err := sy.Generate(context.Background(), "u1", RitualDaily); err == nil {
		t.Fatal("expected error when the synthesis call fails outright")
	}
	stored, _ := store.ListRituals(context.Background(), "u1", 5)
	if len(stored) != 0 {
		t.Fatal("failed synthesis persisted a ritual")
	}
}

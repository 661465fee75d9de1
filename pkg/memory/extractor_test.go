package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func stubComplete(reply string, calls *int) CompleteFunc {
	return func(ctx context.Context, system, user string, temperature float64) (string, error) {
		if calls != nil {
			*calls++
		}
		return reply, nil
	}
}

func turnsOf(contents ...string) []Turn {
	turns := make([]Turn, 0, len(contents))
	role := "user"
	for _, c := range contents {
		turns = append(turns, Turn{Role: role, Content: c})
		if role == "user" {
			role = "assistant"
		} else {
			role = "user"
		}
	}
	return turns
}

func TestExtractShortConversationGuard(t *testing.T) {
	store := newTestStore(t)
	calls := 0
	ex := NewExtractor(store, stubComplete(`{"memory_facts": []}`, &calls), time.Second)

	_, err := ex.Extract(context.Background(), "u1", "", turnsOf("hi", "hello", "bye"))
	if !errors.Is(err, ErrConversationTooShort) {
		t.Fatalf("expected ErrConversationTooShort, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("LLM called %d times for a short transcript", calls)
	}

	facts, _ := store.ListFacts(context.Background(), "u1", "", 10)
	summaries, _ := store.ListSummaries(context.Background(), "u1", 10)
	if len(facts) != 0 || len(summaries) != 0 {
		t.Fatal("short transcript produced writes")
	}
}

func TestExtractSectionsPersistIndependently(t *testing.T) {
	store := newTestStore(t)
	// Valid summary and emotion; fact missing key and signal with unknown
	// dimension should be skipped without failing the others.
	reply := `{
		"memory_facts": [{"category": "goal", "key": "", "value": "dropped"}],
		"summary": {"text": "A good talk.", "emotional_tone": "warm"},
		"emotional_patterns": [{"emotion": "content", "polarity": "positive"}],
		"identity_signals": [{"dimension": "charisma", "score_delta": 0.5, "evidence": "e"}]
	}`
	ex := NewExtractor(store, stubComplete(reply, nil), time.Second)

	counts, err := ex.Extract(context.Background(), "u1", "c1", turnsOf("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if counts.Facts != 0 {
		t.Fatalf("facts = %d, keyless fact must be dropped", counts.Facts)
	}
	if counts.Summaries != 1 || counts.Events != 1 {
		t.Fatalf("counts = %+v, valid sections must persist", counts)
	}
	if counts.Signals != 0 {
		t.Fatalf("signals = %d, unknown dimension must be skipped", counts.Signals)
	}

	events, _ := store.ListEmotions(context.Background(), "u1", 10)
	if len(events) != 1 || events[0].Intensity != 0.5 {
		t.Fatalf("emotion defaults not applied: %+v", events)
	}
}

func TestExtractDefaultsAndCoercions(t *testing.T) {
	store := newTestStore(t)
	reply := `{
		"memory_facts": [
			{"category": "nonsense", "key": "likes_tea", "value": "Drinks green tea", "source": "magic"},
			{"category": "skill", "key": "plays_guitar", "value": "Plays guitar on weekends", "source": "observed"}
		],
		"emotional_patterns": [{"emotion": "weird", "polarity": "upside_down"}]
	}`
	ex := NewExtractor(store, stubComplete(reply, nil), time.Second)

	if _, err := ex.Extract(context.Background(), "u1", "", turnsOf("a", "b", "c", "d")); err != nil {
		t.Fatalf("extract: %v", err)
	}

	facts, _ := store.ListFacts(context.Background(), "u1", "", 10)
	if len(facts) != 2 {
		t.Fatalf("facts = %d", len(facts))
	}
	byKey := map[string]MemoryFact{}
	for _, f := range facts {
		byKey[f.Key] = f
	}
	tea := byKey["likes_tea"]
	if tea.Category != CategoryFact {
		t.Fatalf("category = %s, unknown must coerce to fact", tea.Category)
	}
	if tea.Confidence != 0.8 || tea.Source != SourceInferred {
		t.Fatalf("defaults not applied: %+v", tea)
	}
	if byKey["plays_guitar"].Source != SourceObserved {
		t.Fatalf("source = %s, valid source must be kept", byKey["plays_guitar"].Source)
	}

	events, _ := store.ListEmotions(context.Background(), "u1", 10)
	if events[0].Polarity != PolarityNeutral {
		t.Fatalf("polarity = %s, invalid must coerce to neutral", events[0].Polarity)
	}
}

func TestExtractRejectsNonJSONReply(t *testing.T) {
	store := newTestStore(t)
	ex := NewExtractor(store, stubComplete("I could not find anything worth keeping.", nil), time.Second)

	_, err := ex.Extract(context.Background(), "u1", "", turnsOf("a", "b", "c", "d"))
	if !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}
}

func TestExtractCapsFactCount(t *testing.T) {
	store := newTestStore(t)
	var b strings.Builder
	b.WriteString(`{"memory_facts": [`)
	for i := 0; i < 12; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"category": "fact", "key": "k` + string(rune('a'+i)) + `", "value": "v"}`)
	}
	b.WriteString(`]}`)
	ex := NewExtractor(store, stubComplete(b.String(), nil), time.Second)

	counts, err := ex.Extract(context.Background(), "u1", "", turnsOf("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if counts.Facts != 8 {
		t.Fatalf("facts = %d, cap is 8", counts.Facts)
	}
}

func TestExtractMarathonEndToEnd(t *testing.T) {
	store := newTestStore(t)
	reply := `Here is what I found:
{
	"memory_facts": [
		{"category": "goal", "key": "run_marathon", "value": "Wants to run a marathon next year", "confidence": 0.9}
	],
	"summary": {
		"text": "They committed to marathon training but ended the conversation stressed about fitting runs around work.",
		"emotional_tone": "stressed",
		"key_topics": ["running", "time management"],
		"unresolved_threads": ["build a weekly training plan"]
	},
	"emotional_patterns": [
		{"emotion": "stressed", "intensity": 0.7, "polarity": "negative", "context": "worried about finding time to train"}
	],
	"identity_signals": [
		{"dimension": "discipline", "score_delta": 0.3, "evidence": "committed to a training schedule"}
	]
}`
	ex := NewExtractor(store, stubComplete(reply, nil), time.Second)

	transcript := turnsOf(
		"I've been thinking about my fitness",
		"Tell me more",
		"I want to run a marathon next year",
		"That's a great goal, how will you train?",
		"Not sure I can fit it around work, honestly it stresses me out",
		"Let's figure out a plan together",
	)
	counts, err := ex.Extract(context.Background(), "u1", "c1", transcript)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if counts.Facts < 1 || counts.Summaries != 1 || counts.Events < 1 || counts.Signals < 1 {
		t.Fatalf("counts = %+v", counts)
	}

	facts, _ := store.ListFacts(context.Background(), "u1", CategoryGoal, 10)
	if len(facts) == 0 || !strings.Contains(strings.ToLower(facts[0].Value), "marathon") {
		t.Fatalf("goal fact missing marathon: %+v", facts)
	}
	summaries, _ := store.ListSummaries(context.Background(), "u1", 5)
	if summaries[0].EmotionalTone != "stressed" {
		t.Fatalf("tone = %q", summaries[0].EmotionalTone)
	}

	state, err := NewAssembler(store).Assemble(context.Background(), "u1")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	rendered := state.Render()
	if !strings.Contains(strings.ToLower(rendered), "marathon") {
		t.Fatalf("rendered context missing marathon:\n%s", rendered)
	}
	if state.CurrentEmotion != "stressed" {
		t.Fatalf("current emotion = %q", state.CurrentEmotion)
	}
}

package memory

import (
	"context"
	"fmt"
	"strings"
)

// Caps keep the rendered block bounded regardless of store size.
const (
	cognitiveFactWindow     = 50
	cognitiveSummaryWindow  = 5
	cognitiveEmotionWindow  = 10
	cognitiveIdentityWindow = 6

	maxRenderedGoals      = 4
	maxRenderedInterests  = 3
	maxRenderedProjects   = 3
	maxRenderedTriggers   = 2
	maxRenderedMotivators = 2
	maxRenderedPatterns   = 2
	maxRenderedMilestones = 3
	maxRenderedThreads    = 2
)

// CognitiveState is the bounded snapshot of what the companion "knows" about
// a user, assembled per chat turn and rendered into the system prompt.
type CognitiveState struct {
	UserID            string   `json:"user_id"`
	Goals             []string `json:"goals"`
	Interests         []string `json:"interests"`
	Projects          []string `json:"projects"`
	Triggers          []string `json:"triggers"`
	Motivators        []string `json:"motivators"`
	Patterns          []string `json:"patterns"`
	RecentMilestones  []string `json:"recent_milestones"`
	UnresolvedThreads []string `json:"unresolved_threads"`
	CurrentEmotion    string   `json:"current_emotion"`
	EmotionalTrend    Trend    `json:"emotional_trend"`
	IdentityGrowth    []string `json:"identity_growth"`
}

// Assembler builds cognitive state from the stores. It only reads.
type Assembler struct {
	store Store
}

func NewAssembler(store Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble gathers the bounded recent windows for a user. Partial data is
// fine: a brand-new user yields an empty state, not an error.
func (a *Assembler) Assemble(ctx context.Context, userID string) (CognitiveState, error) {
	state := CognitiveState{UserID: userID, EmotionalTrend: TrendStable}

	facts, err := a.store.ListFacts(ctx, userID, "", cognitiveFactWindow)
	if err != nil {
		return state, fmt.Errorf("assemble facts: %w", err)
	}
	for _, f := range facts {
		line := f.Value
		switch f.Category {
		case CategoryGoal:
			state.Goals = appendCapped(state.Goals, line, maxRenderedGoals)
		case CategoryInterest:
			state.Interests = appendCapped(state.Interests, line, maxRenderedInterests)
		case CategoryProject:
			state.Projects = appendCapped(state.Projects, line, maxRenderedProjects)
		case CategoryTrigger:
			state.Triggers = appendCapped(state.Triggers, line, maxRenderedTriggers)
		case CategoryMotivator:
			state.Motivators = appendCapped(state.Motivators, line, maxRenderedMotivators)
		case CategoryPattern:
			state.Patterns = appendCapped(state.Patterns, line, maxRenderedPatterns)
		}
	}

	summaries, err := a.store.ListSummaries(ctx, userID, cognitiveSummaryWindow)
	if err != nil {
		return state, fmt.Errorf("assemble summaries: %w", err)
	}
	// Tone and open threads come from the newest summary only; milestones are
	// flattened across the whole window.
	if len(summaries) > 0 {
		state.CurrentEmotion = summaries[0].EmotionalTone
		for _, t := range summaries[0].UnresolvedThreads {
			state.UnresolvedThreads = appendCapped(state.UnresolvedThreads, t, maxRenderedThreads)
		}
	}
	for _, s := range summaries {
		for _, m := range s.Milestones {
			state.RecentMilestones = appendCapped(state.RecentMilestones, m, maxRenderedMilestones)
		}
	}

	emotions, err := a.store.ListEmotions(ctx, userID, cognitiveEmotionWindow)
	if err != nil {
		return state, fmt.Errorf("assemble emotions: %w", err)
	}
	state.EmotionalTrend = classifyTrend(emotions)
	// A concrete recent event beats the coarser summary tone.
	if len(emotions) > 0 {
		state.CurrentEmotion = emotions[0].Emotion
	}

	identity, err := a.store.ListIdentity(ctx, userID, cognitiveIdentityWindow)
	if err != nil {
		return state, fmt.Errorf("assemble identity: %w", err)
	}
	for _, step := range identity {
		if step.Delta <= 0 {
			continue
		}
		state.IdentityGrowth = append(state.IdentityGrowth,
			fmt.Sprintf("%s (+%.2f)", step.Dimension, step.Delta))
	}

	return state, nil
}

// classifyTrend labels the recent window declining when negative events
// outnumber positive ones by a factor of 1.5 or more (so 3 negative vs 2
// positive declines), improving on the mirror-image ratio, and stable
// otherwise. Ties and neutral-heavy windows are stable.
func classifyTrend(emotions []EmotionalPattern) Trend {
	var pos, neg float64
	for _, e := range emotions {
		switch e.Polarity {
		case PolarityPositive:
			pos++
		case PolarityNegative:
			neg++
		}
	}
	switch {
	case neg > pos && neg >= 1.5*pos:
		return TrendDeclining
	case pos > neg && pos >= 1.5*neg:
		return TrendImproving
	default:
		return TrendStable
	}
}

// Render produces the prompt block. Sections keep a fixed order and empty
// sections are omitted entirely; an empty state renders "".
func (s CognitiveState) Render() string {
	var sections []string

	addList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString(title + ":\n")
		for _, item := range items {
			b.WriteString("- " + item + "\n")
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	addList("Current goals", s.Goals)
	addList("Interests", s.Interests)
	addList("Active projects", s.Projects)
	addList("Sensitive topics", s.Triggers)
	addList("What motivates them", s.Motivators)
	addList("Known patterns", s.Patterns)
	addList("Recent wins", s.RecentMilestones)
	addList("Open threads", s.UnresolvedThreads)

	if s.CurrentEmotion != "" || s.EmotionalTrend != TrendStable {
		emotion := s.CurrentEmotion
		if emotion == "" {
			emotion = "unknown"
		}
		sections = append(sections, fmt.Sprintf("Emotional state: %s (trend: %s)", emotion, s.EmotionalTrend))
	}
	addList("Identity growth lately", s.IdentityGrowth)

	if len(sections) == 0 {
		return ""
	}
	return "What you know about this user:\n\n" + strings.Join(sections, "\n\n")
}

func appendCapped(list []string, item string, limit int) []string {
	if len(list) >= limit || strings.TrimSpace(item) == "" {
		return list
	}
	return append(list, item)
}

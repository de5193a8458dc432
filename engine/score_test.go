package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/production-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// scoringNow is the fixed evaluation instant for the scoring tests.
var scoringNow = time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC)

func dueIn(days int) engine.TimePoint {
	return engine.DayOf(scoringNow).AddDays(days)
}

func queuedItem(id string, dueInDays, entryIndex int) engine.WorkItem {
	return engine.WorkItem{
		ID:         engine.Identifier(id),
		DueDate:    dueIn(dueInDays),
		EntryIndex: entryIndex,
	}
}

// =============================================================================
// SCORING TIER TESTS
// =============================================================================

func TestScorer_Score_Tiers(t *testing.T) {
	scorer := engine.NewScorer(engine.DefaultScoringConfig())

	tests := []struct {
		name      string
		dueInDays int
		want      int
	}{
		{"overdue", -1, 1100},
		{"due today", 0, 600},
		{"within a week", 7, 600},
		{"within two weeks", 8, 350},
		{"two week boundary", 14, 350},
		{"within a month", 30, 200},
		{"far out", 31, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorer.Score(dueIn(tt.dueInDays), scoringNow))
		})
	}
}

func TestScorer_Label_Bands(t *testing.T) {
	scorer := engine.NewScorer(engine.DefaultScoringConfig())

	assert.Equal(t, engine.UrgencyCritical, scorer.Label(dueIn(-3), scoringNow))
	assert.Equal(t, engine.UrgencyHigh, scorer.Label(dueIn(2), scoringNow))
	assert.Equal(t, engine.UrgencyMedium, scorer.Label(dueIn(10), scoringNow))
	assert.Equal(t, engine.UrgencyNormal, scorer.Label(dueIn(25), scoringNow))
	assert.Equal(t, engine.UrgencyNormal, scorer.Label(dueIn(90), scoringNow))
}

func TestScorer_Score_TimeOfDayIrrelevant(t *testing.T) {
	// Scoring is day-granular: evaluating just before midnight and just after
	// it on the same day gives the same score.
	scorer := engine.NewScorer(engine.DefaultScoringConfig())
	due := dueIn(7)

	morning := scorer.Score(due, scoringNow.Truncate(24*time.Hour))
	evening := scorer.Score(due, scoringNow.Truncate(24*time.Hour).Add(23*time.Hour))
	assert.Equal(t, morning, evening)
}

// =============================================================================
// RANKING TESTS
// =============================================================================

func TestScorer_Rank_HigherScoreFirst(t *testing.T) {
	// GIVEN: Items across urgency tiers, entered in arbitrary order
	// THEN: The queue orders by score descending

	scorer := engine.NewScorer(engine.DefaultScoringConfig())
	items := []engine.WorkItem{
		queuedItem("AN001", 25, 0),
		queuedItem("AN002", -2, 1),
		queuedItem("AN003", 3, 2),
	}

	ranked := scorer.Rank(items, scoringNow)

	assert.Equal(t, engine.Identifier("AN002"), ranked[0].ID, "overdue first")
	assert.Equal(t, engine.Identifier("AN003"), ranked[1].ID)
	assert.Equal(t, engine.Identifier("AN001"), ranked[2].ID)
}

func TestScorer_Rank_FIFOWithinEqualScores(t *testing.T) {
	// GIVEN: Three items with identical scores but different entry order
	// THEN: The earlier entry ranks higher, regardless of slice order

	scorer := engine.NewScorer(engine.DefaultScoringConfig())
	items := []engine.WorkItem{
		queuedItem("AN003", 5, 2),
		queuedItem("AN001", 5, 0),
		queuedItem("AN002", 5, 1),
	}

	ranked := scorer.Rank(items, scoringNow)

	assert.Equal(t, engine.Identifier("AN001"), ranked[0].ID)
	assert.Equal(t, engine.Identifier("AN002"), ranked[1].ID)
	assert.Equal(t, engine.Identifier("AN003"), ranked[2].ID)
}

func TestScorer_Rank_RecomputesDerivedFields(t *testing.T) {
	// Stored scores are never trusted; ranking overwrites them.
	scorer := engine.NewScorer(engine.DefaultScoringConfig())
	item := queuedItem("AN001", -1, 0)
	item.Score = 1
	item.Urgency = engine.UrgencyNormal

	ranked := scorer.Rank([]engine.WorkItem{item}, scoringNow)

	assert.Equal(t, 1100, ranked[0].Score)
	assert.Equal(t, engine.UrgencyCritical, ranked[0].Urgency)
}

func TestScorer_Rank_Deterministic(t *testing.T) {
	// GIVEN: The same items and the same instant
	// THEN: Repeated rankings are identical element for element

	scorer := engine.NewScorer(engine.DefaultScoringConfig())
	items := []engine.WorkItem{
		queuedItem("AN004", 12, 3),
		queuedItem("AN001", 5, 0),
		queuedItem("AN003", 5, 2),
		queuedItem("AN002", -4, 1),
	}

	first := scorer.Rank(items, scoringNow)
	second := scorer.Rank(items, scoringNow)
	assert.Equal(t, first, second)
}

func TestScorer_Rank_InputUntouched(t *testing.T) {
	scorer := engine.NewScorer(engine.DefaultScoringConfig())
	items := []engine.WorkItem{
		queuedItem("AN001", 25, 0),
		queuedItem("AN002", -2, 1),
	}

	_ = scorer.Rank(items, scoringNow)

	assert.Equal(t, engine.Identifier("AN001"), items[0].ID)
	assert.Zero(t, items[0].Score, "input slice must not be mutated")
}

func TestNewScorer_ZeroConfigUsesDefaults(t *testing.T) {
	scorer := engine.NewScorer(engine.ScoringConfig{})
	assert.Equal(t, 1100, scorer.Score(dueIn(-1), scoringNow))
}

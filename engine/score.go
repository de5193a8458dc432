/*
score.go - Priority scoring and queue ranking

PURPOSE:
  Computes the urgency score for a queued work item from its due date and
  entry position, and produces the deterministic queue ordering. The score is
  derived state: recomputed on every pass, never stored as truth.

SCORING MODEL:
  score = base + tier bonus, where the tier is picked by days-until-due.
  Overdue items get the largest bonus; bonuses decrease at each cutoff and
  vanish past the widest one. Tiers, bonuses and cutoffs are configuration,
  not constants.

TIEBREAK:
  A fractional term 1/(1+entryIndex) is added to the rank key so items in the
  same tier keep FIFO order. The term is an exact decimal, not a float, so the
  ordering is reproducible across runs and platforms.

SEE ALSO:
  - types.go: WorkItem, UrgencyLabel
  - adjust.go: Priority changes feed the adjustment scheduler
*/
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// ScoreTier is one urgency band: items due within MaxDaysToDue days earn
// Bonus and display as Label.
type ScoreTier struct {
	MaxDaysToDue int
	Bonus        int
	Label        UrgencyLabel
}

// ScoringConfig externalizes the scoring tiers (cutoffs, bonuses, base).
type ScoringConfig struct {
	BaseScore    int
	OverdueBonus int
	Tiers        []ScoreTier // ascending by MaxDaysToDue
}

// DefaultScoringConfig mirrors the production tiers: overdue, then 7/14/30
// day cutoffs with decreasing bonuses.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BaseScore:    100,
		OverdueBonus: 1000,
		Tiers: []ScoreTier{
			{MaxDaysToDue: 7, Bonus: 500, Label: UrgencyHigh},
			{MaxDaysToDue: 14, Bonus: 250, Label: UrgencyMedium},
			{MaxDaysToDue: 30, Bonus: 100, Label: UrgencyNormal},
		},
	}
}

// =============================================================================
// SCORER
// =============================================================================

// Scorer computes scores and rankings. Pure: fixed inputs give fixed outputs.
type Scorer struct {
	Config ScoringConfig
}

func NewScorer(cfg ScoringConfig) *Scorer {
	if cfg.BaseScore == 0 && cfg.OverdueBonus == 0 && len(cfg.Tiers) == 0 {
		cfg = DefaultScoringConfig()
	}
	return &Scorer{Config: cfg}
}

// Score returns the integer urgency score for an item due on dueDate,
// evaluated at now. Higher means more urgent.
func (s *Scorer) Score(dueDate TimePoint, now time.Time) int {
	return s.Config.BaseScore + s.bonus(DaysBetween(DayOf(now), dueDate))
}

// Label classifies an item into its display urgency band.
func (s *Scorer) Label(dueDate TimePoint, now time.Time) UrgencyLabel {
	days := DaysBetween(DayOf(now), dueDate)
	if days < 0 {
		return UrgencyCritical
	}
	for _, tier := range s.Config.Tiers {
		if days <= tier.MaxDaysToDue {
			return tier.Label
		}
	}
	return UrgencyNormal
}

func (s *Scorer) bonus(daysToDue int) int {
	if daysToDue < 0 {
		return s.Config.OverdueBonus
	}
	for _, tier := range s.Config.Tiers {
		if daysToDue <= tier.MaxDaysToDue {
			return tier.Bonus
		}
	}
	return 0
}

// rankKey is score plus the exact FIFO tiebreak fraction 1/(1+entryIndex).
// Decimal arithmetic keeps the comparison reproducible.
func (s *Scorer) rankKey(item WorkItem, now time.Time) decimal.Decimal {
	score := decimal.NewFromInt(int64(s.Score(item.DueDate, now)))
	tiebreak := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(1 + item.EntryIndex)))
	return score.Add(tiebreak)
}

// Rank recomputes Score and Urgency on every item and returns a new slice in
// queue order: rank key descending (score, then FIFO within equal scores),
// with due date ascending as the final tiebreak. Input order is untouched.
func (s *Scorer) Rank(items []WorkItem, now time.Time) []WorkItem {
	type entry struct {
		item WorkItem
		key  decimal.Decimal
	}
	entries := make([]entry, len(items))
	for i, item := range items {
		item.Score = s.Score(item.DueDate, now)
		item.Urgency = s.Label(item.DueDate, now)
		entries[i] = entry{item: item, key: s.rankKey(item, now)}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].key.Equal(entries[j].key) {
			return entries[i].key.GreaterThan(entries[j].key)
		}
		return entries[i].item.DueDate.Before(entries[j].item.DueDate)
	})

	ranked := make([]WorkItem, len(entries))
	for i, e := range entries {
		ranked[i] = e.item
	}
	return ranked
}

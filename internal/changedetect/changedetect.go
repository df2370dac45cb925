// Package changedetect composes the validity-window calculator, the gap
// detector, and the primary-source comparator into a single freshness-aware
// change scan that produces a prioritized refresh queue.
package changedetect

import (
	"context"
	"fmt"
	"time"

	"github.com/shadow-atlas/acquisition/internal/comparator"
	"github.com/shadow-atlas/acquisition/internal/gap"
	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/validity"
)

// ChangeType classifies what changed about a source since its last check.
type ChangeType string

const (
	ChangeTypeNone     ChangeType = "none"
	ChangeTypeContent  ChangeType = "content"
	ChangeTypeMetadata ChangeType = "metadata"
)

// SuggestedAction is what the orchestrator should do about a source.
type SuggestedAction string

const (
	ActionNoAction       SuggestedAction = "no-action"
	ActionScheduleRefresh SuggestedAction = "schedule-refresh"
	ActionRefreshNow      SuggestedAction = "refresh-now"
)

// Input is one source's current tracking state, as input to a detection
// pass.
type Input struct {
	SourceID     string
	URL          string
	Kind         model.SourceKind
	LastChecksum *string
	LastChecked  *time.Time
}

// DetectionResult is the outcome of a freshness-aware change check for one
// source.
type DetectionResult struct {
	SourceID        string
	HasChanged      bool
	ChangeType      ChangeType
	SuggestedAction SuggestedAction
	Reasoning       string
	Confidence      float64
	NewChecksum     string
	StalenessDays   *int // nil means "never checked", treated as +Inf
	GapStatus       gap.GapCheckResult
	TigerComparison *comparator.TigerComparison
}

// DetectChangesWithFreshness checks every input source and returns one
// DetectionResult per source, in input order. bt and jurisdiction drive the
// shared gap/tiger-comparison context; primary and tigerURL are optional —
// when tigerURL is empty no TigerComparison is computed.
func DetectChangesWithFreshness(
	ctx context.Context,
	cmp *comparator.Comparator,
	gd *gap.Detector,
	bt model.BoundaryType,
	jurisdiction string,
	releaseYear int,
	asOf time.Time,
	inputs []Input,
	primary *model.SourceDescriptor,
	tigerURL string,
) []DetectionResult {
	gapStatus := gd.CheckBoundaryGap(bt, jurisdiction, asOf)

	var tigerCmp *comparator.TigerComparison
	if tigerURL != "" {
		tc := cmp.CompareTigerFreshness(ctx, primary, tigerURL)
		tigerCmp = &tc
	}

	out := make([]DetectionResult, len(inputs))
	for i, in := range inputs {
		out[i] = detectOne(cmp, gd, bt, releaseYear, asOf, in, gapStatus, tigerCmp)
	}
	return out
}

func detectOne(
	cmp *comparator.Comparator,
	gd *gap.Detector,
	bt model.BoundaryType,
	releaseYear int,
	asOf time.Time,
	in Input,
	gapStatus gap.GapCheckResult,
	tigerCmp *comparator.TigerComparison,
) DetectionResult {
	res := DetectionResult{
		SourceID:  in.SourceID,
		GapStatus: gapStatus,
		TigerComparison: tigerCmp,
	}
	if in.LastChecked != nil {
		days := int(asOf.Sub(*in.LastChecked).Hours() / 24)
		res.StalenessDays = &days
	}

	check := cmp.CheckSourceFreshness(context.Background(), in.URL)
	if !check.Available {
		res.ChangeType = ChangeTypeNone
		res.SuggestedAction = ActionNoAction
		res.Reasoning = "source unavailable on this check; treated as unchanged"
		res.NewChecksum = derefOr(in.LastChecksum, "")
		return res
	}

	newChecksum := checksumFrom(check)
	res.NewChecksum = newChecksum
	res.Confidence = validity.ComputeConfidence(in.Kind, bt, releaseYear, asOf)

	changed := in.LastChecksum == nil || *in.LastChecksum != newChecksum
	switch {
	case changed:
		res.ChangeType = ChangeTypeContent
		res.HasChanged = true
	case res.Confidence < 0.4:
		res.ChangeType = ChangeTypeMetadata
		res.HasChanged = true
	default:
		res.ChangeType = ChangeTypeNone
	}

	res.SuggestedAction, res.Reasoning = suggestAction(res, gapStatus, tigerCmp)
	return res
}

func suggestAction(res DetectionResult, gapStatus gap.GapCheckResult, tigerCmp *comparator.TigerComparison) (SuggestedAction, string) {
	if gapStatus.InGap && gapStatus.Recommendation == gap.RecommendUsePrimary {
		if tigerCmp != nil && !tigerCmp.TigerIsFresh {
			return ActionRefreshNow, fmt.Sprintf("redistricting gap recommends the primary source; aggregator lags by %d day(s)", tigerCmp.LagDays)
		}
		return ActionRefreshNow, "redistricting gap recommends the primary source"
	}
	switch res.ChangeType {
	case ChangeTypeContent:
		if res.Confidence < 0.7 {
			return ActionScheduleRefresh, "content changed and confidence is below 0.7"
		}
	case ChangeTypeMetadata:
		return ActionScheduleRefresh, "metadata-only change detected"
	}
	return ActionNoAction, "no action needed"
}

func checksumFrom(check comparator.FreshnessCheck) string {
	if check.ETag != nil {
		return *check.ETag
	}
	if check.LastModified != nil {
		return check.LastModified.UTC().Format(time.RFC3339)
	}
	return ""
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// PriorityQueue buckets detection results by refresh urgency.
type PriorityQueue struct {
	Critical   []DetectionResult
	High       []DetectionResult
	Medium     []DetectionResult
	Low        []DetectionResult
	TotalCount int
}

// GetRefreshPriority buckets results into critical/high/medium/low per §4.5.
func GetRefreshPriority(results []DetectionResult) PriorityQueue {
	q := PriorityQueue{TotalCount: len(results)}
	for _, r := range results {
		switch {
		case r.GapStatus.InGap:
			q.Critical = append(q.Critical, r)
		case r.Confidence < 0.4 || r.StalenessDays == nil || *r.StalenessDays > 180:
			q.High = append(q.High, r)
		case r.Confidence < 0.7 || (*r.StalenessDays >= 90 && *r.StalenessDays <= 180):
			q.Medium = append(q.Medium, r)
		default:
			q.Low = append(q.Low, r)
		}
	}
	return q
}

// ScheduleResult is the outcome of ScheduleConfidenceBasedRefresh.
type ScheduleResult struct {
	Sources       []DetectionResult
	NextRefresh   time.Time
	CheckInterval time.Duration
	Reasoning     string
}

// ScheduleConfidenceBasedRefresh decides when to next re-run change
// detection: immediately if any source is below threshold, otherwise in a
// week. The check interval itself tightens to daily whenever the next
// refresh is within a week.
func ScheduleConfidenceBasedRefresh(results []DetectionResult, threshold float64, asOf time.Time) ScheduleResult {
	belowCount := 0
	for _, r := range results {
		if r.Confidence < threshold {
			belowCount++
		}
	}

	var next time.Time
	var reasoning string
	if belowCount > 0 {
		next = asOf
		reasoning = fmt.Sprintf("%d source(s) below confidence threshold %.2f; refreshing now", belowCount, threshold)
	} else {
		next = asOf.AddDate(0, 0, 7)
		reasoning = "all sources above confidence threshold; next check in one week"
	}

	interval := 7 * 24 * time.Hour
	if next.Sub(asOf) <= 7*24*time.Hour {
		interval = 24 * time.Hour
	}

	return ScheduleResult{Sources: results, NextRefresh: next, CheckInterval: interval, Reasoning: reasoning}
}

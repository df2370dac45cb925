// Package conflicts implements deterministic selection among competing
// SourceClaims for the same boundary: primary authorities always win over
// aggregators, and ties within a group break on freshness, then authority
// level, then source id.
package conflicts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadow-atlas/acquisition/internal/errkind"
	"github.com/shadow-atlas/acquisition/internal/model"
)

// Resolver resolves conflicts between competing SourceClaims.
type Resolver struct {
	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

// NewResolver returns a Resolver with the real clock.
func NewResolver() *Resolver {
	return &Resolver{Now: func() time.Time { return time.Now().UTC() }}
}

// ResolveConflict deterministically selects a winner among claims for
// boundaryID and records why every other claim lost.
func (r *Resolver) ResolveConflict(boundaryID string, claims []model.SourceClaim) (model.ResolutionDecision, error) {
	if len(claims) == 0 {
		return model.ResolutionDecision{}, errkind.New(errkind.ConflictEmpty, "conflicts.ResolveConflict",
			fmt.Errorf("no claims for boundary %q", boundaryID))
	}

	now := r.Now()

	if len(claims) == 1 {
		c := claims[0]
		return model.ResolutionDecision{
			BoundaryID:          boundaryID,
			WinnerSourceID:      c.SourceID,
			Reason:              "Only source available",
			Freshness:           c.LastModified,
			AlternativesCounted: 0,
			Timestamp:           now,
			Confidence:          100,
		}, nil
	}

	var primaries, aggregators []model.SourceClaim
	for _, c := range claims {
		if c.Kind == model.SourceKindPrimary {
			primaries = append(primaries, c)
		} else {
			aggregators = append(aggregators, c)
		}
	}

	var winner model.SourceClaim
	var reason string
	if len(primaries) > 0 {
		winner = pickWinner(primaries)
		reason = "Primary authority wins over aggregators and older primaries"
	} else {
		winner = pickWinner(aggregators)
		reason = "Freshest aggregator selected; no primary source available"
	}

	var losers []model.SourceClaim
	for _, c := range claims {
		if c.SourceID != winner.SourceID {
			losers = append(losers, c)
		}
	}

	rejected := make([]model.RejectedClaim, 0, len(losers))
	for _, l := range losers {
		rejected = append(rejected, model.RejectedClaim{
			SourceID:       l.SourceID,
			Reason:         rejectionReason(winner, l),
			FreshnessGapMs: winner.LastModified.Sub(l.LastModified).Milliseconds(),
		})
	}

	return model.ResolutionDecision{
		BoundaryID:          boundaryID,
		WinnerSourceID:      winner.SourceID,
		Reason:              reason,
		Freshness:           winner.LastModified,
		AlternativesCounted: len(claims) - 1,
		Timestamp:           now,
		Confidence:          computeConfidence(winner, now, len(claims)-1),
		Rejected:            rejected,
	}, nil
}

// CreateManualOverride records an operator's explicit pick among claims,
// bypassing the scoring rules.
func (r *Resolver) CreateManualOverride(boundaryID, selectedID string, claims []model.SourceClaim, reason string) (model.ResolutionDecision, error) {
	var winner model.SourceClaim
	found := false
	for _, c := range claims {
		if c.SourceID == selectedID {
			winner = c
			found = true
			break
		}
	}
	if !found {
		return model.ResolutionDecision{}, fmt.Errorf("conflicts: manual override: source %q not present among claims", selectedID)
	}

	rejected := make([]model.RejectedClaim, 0, len(claims)-1)
	for _, c := range claims {
		if c.SourceID == selectedID {
			continue
		}
		rejected = append(rejected, model.RejectedClaim{
			SourceID:       c.SourceID,
			Reason:         fmt.Sprintf("Manually overridden in favor of %s", selectedID),
			FreshnessGapMs: winner.LastModified.Sub(c.LastModified).Milliseconds(),
		})
	}

	return model.ResolutionDecision{
		BoundaryID:          boundaryID,
		WinnerSourceID:      selectedID,
		Reason:              "MANUAL OVERRIDE: " + reason,
		Freshness:           winner.LastModified,
		AlternativesCounted: len(claims) - 1,
		Timestamp:           r.Now(),
		Confidence:          75,
		ManualOverride:      true,
		Rejected:            rejected,
	}, nil
}

// ResolveBatch resolves many independent boundary conflicts concurrently,
// bounded by maxParallel.
func (r *Resolver) ResolveBatch(ctx context.Context, batches map[string][]model.SourceClaim, maxParallel int) (map[string]model.ResolutionDecision, error) {
	results := make(map[string]model.ResolutionDecision, len(batches))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for boundaryID, claims := range batches {
		boundaryID, claims := boundaryID, claims
		g.Go(func() error {
			d, err := r.ResolveConflict(boundaryID, claims)
			if err != nil {
				return err
			}
			mu.Lock()
			results[boundaryID] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ValidateResolution checks the invariants a stored ResolutionDecision must
// satisfy: confidence at least 50, winner age at most two years, and a
// non-negative alternatives count.
func ValidateResolution(d model.ResolutionDecision, asOf time.Time) error {
	var errs []error
	if d.Confidence < 50 {
		errs = append(errs, fmt.Errorf("confidence %d below minimum 50", d.Confidence))
	}
	if asOf.Sub(d.Freshness) > 2*365*24*time.Hour {
		errs = append(errs, fmt.Errorf("winner is older than two years as of %s", asOf.Format(time.RFC3339)))
	}
	if d.AlternativesCounted < 0 {
		errs = append(errs, fmt.Errorf("alternativesCounted %d is negative", d.AlternativesCounted))
	}
	return errors.Join(errs...)
}

// Score computes the auxiliary ranking form used when comparing candidate
// providers for a single layer outside the primary/aggregator split:
// authorityLevel*1000 + (100-preferenceRank)*100 + freshnessScore*10.
func Score(authorityLevel model.AuthorityLevel, preferenceRank int, freshnessScore float64) float64 {
	return float64(authorityLevel)*1000 + float64(100-preferenceRank)*100 + freshnessScore*10
}

func pickWinner(claims []model.SourceClaim) model.SourceClaim {
	sorted := make([]model.SourceClaim, len(claims))
	copy(sorted, claims)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		if a.AuthorityLevel != b.AuthorityLevel {
			return a.AuthorityLevel > b.AuthorityLevel
		}
		return a.SourceID < b.SourceID
	})
	return sorted[0]
}

func rejectionReason(winner, claim model.SourceClaim) string {
	if winner.Kind == model.SourceKindPrimary && claim.Kind == model.SourceKindAggregator {
		return "Aggregator loses to primary authority"
	}
	if claim.Kind == winner.Kind {
		return "Superseded by a fresher source of the same kind"
	}
	return "Lower authority than the winning source"
}

func computeConfidence(winner model.SourceClaim, now time.Time, competingCount int) int {
	base := 70
	if winner.Kind == model.SourceKindPrimary {
		base = 90
	}

	ageDays := int(now.Sub(winner.LastModified).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}
	agePenalty := ageDays / 90
	if agePenalty > 20 {
		agePenalty = 20
	}

	competingPenalty := competingCount * 5

	conf := base - agePenalty - competingPenalty
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}
	return conf
}

// Package comparator checks a source's HTTP freshness metadata and compares
// a primary authority's freshness against a federal aggregator's, without
// downloading either payload.
package comparator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/retry"
)

// DefaultPolicy is the backoff policy used for freshness checks: 5s
// per-request timeout (applied by the caller's context), up to 3 retries,
// initial 1s backoff doubling to a 10s cap.
var DefaultPolicy = retry.Policy{MaxAttempts: 4, Base: time.Second, Max: 10 * time.Second}

const headTimeout = 5 * time.Second

// FreshnessCheck is the result of a single HEAD-based freshness probe.
type FreshnessCheck struct {
	Available     bool
	LastModified  *time.Time
	ETag          *string
	ContentLength *int64
	CheckedAt     time.Time
	Error         string
}

// Comparator issues HTTP HEAD requests to compare source freshness.
type Comparator struct {
	Client *http.Client
}

// New returns a Comparator using client, or http.DefaultClient if nil.
func New(client *http.Client) *Comparator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Comparator{Client: client}
}

// CheckSourceFreshness issues a HEAD request against url with a 5s timeout
// and up to 3 retries on transient failure. A cancelled or permanently
// failed check is reported as unavailable rather than returned as an error —
// callers treat unavailability as "no change" per §4.5.
func (c *Comparator) CheckSourceFreshness(ctx context.Context, url string) FreshnessCheck {
	checkedAt := time.Now().UTC()
	var resp *http.Response
	err := DefaultPolicy.Do(ctx, isRetriableHTTP, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, headTimeout)
		defer cancel()
		req, rerr := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
		if rerr != nil {
			return rerr
		}
		r, rerr := c.Client.Do(req)
		if rerr != nil {
			return rerr
		}
		resp = r
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return fmt.Errorf("comparator: %s: server error %d", url, resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return FreshnessCheck{Available: false, CheckedAt: checkedAt, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return FreshnessCheck{Available: false, CheckedAt: checkedAt, Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	check := FreshnessCheck{Available: true, CheckedAt: checkedAt}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, perr := http.ParseTime(lm); perr == nil {
			check.LastModified = &t
		}
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		check.ETag = &etag
	}
	if cl := resp.ContentLength; cl >= 0 {
		check.ContentLength = &cl
	}
	return check
}

func isRetriableHTTP(err error) bool {
	return err != nil
}

// Recommendation is which family of source the comparator prefers.
type Recommendation string

const (
	RecommendUseTiger   Recommendation = "use-tiger"
	RecommendUsePrimary Recommendation = "use-primary"
)

// TigerComparison is the outcome of comparing a primary source against the
// federal aggregator for the same boundary.
type TigerComparison struct {
	TigerIsFresh   bool
	Recommendation Recommendation
	LagDays        int
	Warning        string
}

// CompareTigerFreshness compares a primary source's freshness against the
// aggregator's. primary may be nil when no primary source is registered for
// this boundary/jurisdiction.
func (c *Comparator) CompareTigerFreshness(ctx context.Context, primary *model.SourceDescriptor, tigerURL string) TigerComparison {
	if primary == nil {
		return TigerComparison{TigerIsFresh: true, Recommendation: RecommendUseTiger}
	}
	if !primary.MachineReadable {
		return TigerComparison{
			TigerIsFresh:   true,
			Recommendation: RecommendUseTiger,
			Warning:        fmt.Sprintf("primary source %q is not machine-readable; cannot compare freshness", primary.ID),
		}
	}

	primaryCheck := c.CheckSourceFreshness(ctx, primary.URL)
	tigerCheck := c.CheckSourceFreshness(ctx, tigerURL)

	if primaryCheck.Available && tigerCheck.Available &&
		primaryCheck.LastModified != nil && tigerCheck.LastModified != nil &&
		primaryCheck.LastModified.After(*tigerCheck.LastModified) {
		lag := primaryCheck.LastModified.Sub(*tigerCheck.LastModified)
		return TigerComparison{
			TigerIsFresh:   false,
			Recommendation: RecommendUsePrimary,
			LagDays:        int(lag.Hours() / 24),
		}
	}

	return TigerComparison{TigerIsFresh: true, Recommendation: RecommendUseTiger}
}

// StateComparison pairs a state code with its TigerComparison result.
type StateComparison struct {
	State  string
	Result TigerComparison
}

// CompareAllStates runs CompareTigerFreshness for every (state, primary)
// pair in parallel, bounded by maxParallel. primaries maps state code to its
// registered primary descriptor (absent states compare against nil).
func (c *Comparator) CompareAllStates(ctx context.Context, states []string, primaries map[string]*model.SourceDescriptor, tigerURL string, maxParallel int) ([]StateComparison, error) {
	out := make([]StateComparison, len(states))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, state := range states {
		i, state := i, state
		g.Go(func() error {
			out[i] = StateComparison{
				State:  state,
				Result: c.CompareTigerFreshness(gctx, primaries[state], tigerURL),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

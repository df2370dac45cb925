// Package orchestrator drives the acquisition pipeline end to end: it checks
// registered sources for changes, fans out bounded-parallel downloads,
// validates and resolves what comes back, and commits the result through the
// storage layer's head/artifact protocol, recording every step to the run's
// event stream and each committed update to the provenance log.
package orchestrator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadow-atlas/acquisition/internal/changedetect"
	"github.com/shadow-atlas/acquisition/internal/comparator"
	"github.com/shadow-atlas/acquisition/internal/conflicts"
	"github.com/shadow-atlas/acquisition/internal/errkind"
	"github.com/shadow-atlas/acquisition/internal/gap"
	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/provenance"
	"github.com/shadow-atlas/acquisition/internal/registry"
	"github.com/shadow-atlas/acquisition/internal/storage"
	"github.com/shadow-atlas/acquisition/internal/validator"
	"github.com/shadow-atlas/acquisition/internal/workers"
)

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Config tunes a single Orchestrator's behavior. Zero value is invalid;
// construct via New, which fills unset fields with the documented defaults.
type Config struct {
	MaxConcurrentDownloads int
	RunTimeout             time.Duration
	ValidatorOptions       validator.Options
	TigerURL               string
	Now                    Clock
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = 10
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Minute
	}
	if c.ValidatorOptions == (validator.Options{}) {
		c.ValidatorOptions = validator.DefaultOptions
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Orchestrator wires the registry, change detector, workers, conflict
// resolver, validator, provenance writer, and storage layer into the
// acquisition pipeline's three entry points.
type Orchestrator struct {
	db         *storage.DB
	reg        *registry.Registry
	resolver   *conflicts.Resolver
	cmp        *comparator.Comparator
	gapDet     *gap.Detector
	prov       *provenance.Writer
	scrapers   []workers.ScraperContract
	logger     *slog.Logger
	cfg        Config
}

// New assembles an Orchestrator. scrapers is the full set of registered
// acquisition workers (one per source family); each knows its own targets
// and jurisdictions.
func New(
	db *storage.DB,
	reg *registry.Registry,
	resolver *conflicts.Resolver,
	cmp *comparator.Comparator,
	gapDet *gap.Detector,
	prov *provenance.Writer,
	scrapers []workers.ScraperContract,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		db:       db,
		reg:      reg,
		resolver: resolver,
		cmp:      cmp,
		gapDet:   gapDet,
		prov:     prov,
		scrapers: scrapers,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// RunResult is the summary returned by every orchestrator entry point.
type RunResult struct {
	RunID             string   `json:"runId"`
	SourcesChecked    int      `json:"sourcesChecked"`
	SourcesChanged    int      `json:"sourcesChanged"`
	BoundariesUpdated []string `json:"boundariesUpdated"`
	Errors            []string `json:"errors"`
	DurationMs        int64    `json:"durationMs"`
}

// newRunID mints a run identifier shaped run-<ISO8601 with ':.' replaced by
// '-'>-<6 hex chars>.
func newRunID(now time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format(time.RFC3339Nano))
	return fmt.Sprintf("run-%s-%s", stamp, randomSuffix())
}

func randomSuffix() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "000000"
	}
	return hex.EncodeToString(b)
}

// runState is the per-source-per-run bookkeeping the state machine
// (Scheduled -> HeadCheck -> {Unchanged|Changed} -> Download -> Validate ->
// {Rejected|Reviewed|Resolve} -> Commit -> Done) threads through a cycle.
type runState struct {
	muniID   string
	sourceID string
}

// RunIncrementalRefresh performs one scheduled change-detection pass: it
// checks every registered source's freshness, downloads only the sources
// flagged as changed, validates and resolves what comes back per
// municipality, and commits through the storage layer.
func (o *Orchestrator) RunIncrementalRefresh(ctx context.Context) (RunResult, error) {
	runID := newRunID(o.cfg.Now())
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	munis, err := o.db.ListMunicipalities(ctx, 100000, 0)
	if err != nil {
		return RunResult{}, fmt.Errorf("orchestrator: list municipalities: %w", err)
	}
	muniByID := indexMunicipalities(munis)

	result := RunResult{RunID: runID}
	var changed []runState
	for _, m := range munis {
		sources, err := o.db.GetSourcesByMuni(ctx, m.MuniID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: get sources: %v", m.MuniID, err))
			continue
		}
		for _, src := range sources {
			result.SourcesChecked++
			desc, ok := o.reg.Lookup(src.ID)
			if !ok {
				continue
			}
			o.emit(ctx, runID, &m.MuniID, model.EventDiscover, map[string]any{"sourceId": src.ID}, nil)

			det := o.detectOne(ctx, desc, src)
			if det.HasChanged && det.SuggestedAction != changedetect.ActionNoAction {
				result.SourcesChanged++
				changed = append(changed, runState{muniID: m.MuniID, sourceID: src.ID})
			} else {
				o.emit(ctx, runID, &m.MuniID, model.EventSkip, map[string]any{"sourceId": src.ID, "reason": det.Reasoning}, nil)
			}
		}
	}

	byMuni := groupBySourceMuni(changed)
	datasetsByMuni, fetchErrs := o.fetchDatasets(ctx, byMuni)
	result.Errors = append(result.Errors, fetchErrs...)

	boundariesUpdated, commitErrs := o.validateResolveCommit(ctx, runID, datasetsByMuni, muniByID)
	result.BoundariesUpdated = boundariesUpdated
	result.Errors = append(result.Errors, commitErrs...)

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// indexMunicipalities builds a lookup table by MuniID for the provenance
// entries that commit writes, which need the municipality's display name.
func indexMunicipalities(munis []model.Municipality) map[string]model.Municipality {
	out := make(map[string]model.Municipality, len(munis))
	for _, m := range munis {
		out[m.MuniID] = m
	}
	return out
}

// DetectOnly runs just the HeadCheck phase across every registered source —
// no download, validation, resolution, or commit — for the change-check
// family of operator commands, which report on freshness without mutating
// anything.
func (o *Orchestrator) DetectOnly(ctx context.Context) ([]changedetect.DetectionResult, error) {
	munis, err := o.db.ListMunicipalities(ctx, 100000, 0)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list municipalities: %w", err)
	}

	var out []changedetect.DetectionResult
	for _, m := range munis {
		sources, err := o.db.GetSourcesByMuni(ctx, m.MuniID)
		if err != nil {
			continue
		}
		for _, src := range sources {
			desc, ok := o.reg.Lookup(src.ID)
			if !ok {
				continue
			}
			out = append(out, o.detectOne(ctx, desc, src))
		}
	}
	return out, nil
}

// RunFullSnapshot re-downloads every registered municipality's sources
// regardless of change-detection state, in batches of
// Config.MaxConcurrentDownloads, and computes a snapshot hash over every
// updated boundary id.
func (o *Orchestrator) RunFullSnapshot(ctx context.Context) (RunResult, string, error) {
	runID := newRunID(o.cfg.Now())
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	munis, err := o.db.ListMunicipalities(ctx, 100000, 0)
	if err != nil {
		return RunResult{}, "", fmt.Errorf("orchestrator: list municipalities: %w", err)
	}
	muniByID := indexMunicipalities(munis)

	result := RunResult{RunID: runID}
	var all []runState
	for _, m := range munis {
		sources, err := o.db.GetSourcesByMuni(ctx, m.MuniID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: get sources: %v", m.MuniID, err))
			continue
		}
		for _, src := range sources {
			result.SourcesChecked++
			all = append(all, runState{muniID: m.MuniID, sourceID: src.ID})
		}
	}
	result.SourcesChanged = len(all)

	byMuni := groupBySourceMuni(all)
	muniIDs := make([]string, 0, len(byMuni))
	for id := range byMuni {
		muniIDs = append(muniIDs, id)
	}
	sort.Strings(muniIDs)

	var boundariesUpdated []string
	batchSize := o.cfg.MaxConcurrentDownloads
	for i := 0; i < len(muniIDs); i += batchSize {
		end := i + batchSize
		if end > len(muniIDs) {
			end = len(muniIDs)
		}
		batch := make(map[string][]string, end-i)
		for _, id := range muniIDs[i:end] {
			batch[id] = byMuni[id]
		}

		datasetsByMuni, fetchErrs := o.fetchDatasets(ctx, batch)
		result.Errors = append(result.Errors, fetchErrs...)

		updated, commitErrs := o.validateResolveCommit(ctx, runID, datasetsByMuni, muniByID)
		boundariesUpdated = append(boundariesUpdated, updated...)
		result.Errors = append(result.Errors, commitErrs...)
	}

	result.BoundariesUpdated = boundariesUpdated
	result.DurationMs = time.Since(start).Milliseconds()
	return result, snapshotHash(boundariesUpdated), nil
}

// ForceCheckAll bypasses the schedule entirely and runs the same pipeline as
// RunFullSnapshot, treating every registered source as due for a check.
func (o *Orchestrator) ForceCheckAll(ctx context.Context) (RunResult, error) {
	result, _, err := o.RunFullSnapshot(ctx)
	return result, err
}

func snapshotHash(boundaryIDs []string) string {
	sorted := append([]string(nil), boundaryIDs...)
	sort.Strings(sorted)
	return sha256Hex([]byte(strings.Join(sorted, ",")))
}

// detectOne runs the freshness-aware change scan for a single source, scoped
// to its own boundary type and jurisdiction.
func (o *Orchestrator) detectOne(ctx context.Context, desc model.SourceDescriptor, src model.CanonicalSource) changedetect.DetectionResult {
	year := o.cfg.Now().Year()
	var primary *model.SourceDescriptor
	authority := o.reg.GetAuthority(desc.BoundaryType)
	if len(authority.PrimarySources) > 0 {
		p := authority.PrimarySources[0]
		primary = &p
	}

	in := changedetect.Input{
		SourceID:     src.ID,
		URL:          src.URL,
		Kind:         desc.Kind,
		LastChecksum: src.LastChecksum,
		LastChecked:  src.LastChecked,
	}
	results := changedetect.DetectChangesWithFreshness(
		ctx, o.cmp, o.gapDet, desc.BoundaryType, string(desc.Jurisdiction), year, o.cfg.Now(),
		[]changedetect.Input{in}, primary, o.tigerURLFor(desc),
	)
	return results[0]
}

func (o *Orchestrator) tigerURLFor(desc model.SourceDescriptor) string {
	if desc.Kind == model.SourceKindPrimary {
		return o.cfg.TigerURL
	}
	return ""
}

func groupBySourceMuni(states []runState) map[string][]string {
	out := make(map[string][]string)
	for _, s := range states {
		out[s.muniID] = append(out[s.muniID], s.sourceID)
	}
	return out
}

// fetchDatasets runs every registered scraper once (bounded at
// MaxConcurrentDownloads) and distributes the resulting datasets to the
// municipalities whose changed sources share that dataset's jurisdiction.
// Scrapers carry no muni identity directly (see workers.DatasetProvenance);
// jurisdiction is the join key the registry already uses to resolve a
// source's MuniID, so the same key resolves a scraped dataset's owner here.
func (o *Orchestrator) fetchDatasets(ctx context.Context, wanted map[string][]string) (map[string][]workers.Dataset, []string) {
	muniByJurisdiction := make(map[string][]string)
	for muniID, sourceIDs := range wanted {
		for _, sid := range sourceIDs {
			desc, ok := o.reg.Lookup(sid)
			if !ok {
				continue
			}
			j := string(desc.Jurisdiction)
			muniByJurisdiction[j] = append(muniByJurisdiction[j], muniID)
		}
	}

	var errs []string
	out := make(map[string][]workers.Dataset)
	var outMu sync.Mutex
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentDownloads)
	for _, scraper := range o.scrapers {
		scraper := scraper
		g.Go(func() error {
			res, err := withRetry(gctx, 3, time.Second, 10*time.Second, func() (workers.Result, error) {
				return scraper.ScrapeAll(gctx, workers.Config{})
			})
			if err != nil {
				errMu.Lock()
				errs = append(errs, err.Error())
				errMu.Unlock()
				return nil
			}
			for _, f := range res.Failures {
				errMu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %s", f.Source, f.Error))
				errMu.Unlock()
			}
			outMu.Lock()
			for _, ds := range res.Datasets {
				muniIDs := muniByJurisdiction[ds.Provenance.Jurisdiction]
				for _, muniID := range muniIDs {
					out[muniID] = append(out[muniID], ds)
				}
			}
			outMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out, errs
}

// withRetry retries fn up to maxAttempts times with exponential backoff
// bounded by maxDelay, per the documented per-download retry policy. It
// gives up immediately on a non-recoverable errkind classification.
func withRetry[T any](ctx context.Context, maxAttempts int, baseDelay, maxDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ke, ok := err.(*errkind.Error); ok && !errkind.Recoverable(ke.Kind) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > maxDelay {
			delay = maxDelay
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// validateResolveCommit validates every candidate dataset per municipality,
// resolves conflicts when more than one source produced a claim, and commits
// the winner through the per-muni locked head/artifact protocol.
func (o *Orchestrator) validateResolveCommit(ctx context.Context, runID string, byMuni map[string][]workers.Dataset, muniByID map[string]model.Municipality) ([]string, []string) {
	var updated []string
	var errs []string

	for muniID, datasets := range byMuni {
		claims := make([]model.SourceClaim, 0, len(datasets))
		datasetByClaim := make(map[string]workers.Dataset, len(datasets))
		triedSourceIDs := make([]string, 0, len(datasets))
		for _, ds := range datasets {
			triedSourceIDs = append(triedSourceIDs, ds.Provenance.Source)
			res := validator.Validate(ds.Payload, o.cfg.ValidatorOptions)
			switch res.Disposition {
			case validator.DispositionReject:
				o.emit(ctx, runID, &muniID, model.EventError, map[string]any{"source": ds.Provenance.Source, "issues": res.Issues}, errPtr(errkind.New(errkind.ValidationReject, "orchestrator.validate", fmt.Errorf("confidence %d", res.Confidence))))
				errs = append(errs, fmt.Sprintf("%s: %s rejected: %v", muniID, ds.Provenance.Source, res.Issues))
				continue
			case validator.DispositionReview:
				o.emit(ctx, runID, &muniID, model.EventSelect, map[string]any{"source": ds.Provenance.Source, "disposition": "review"}, nil)
			}

			claim := model.SourceClaim{
				SourceID:       ds.Provenance.Source,
				SourceName:     ds.Provenance.Source,
				LastModified:   derefTime(ds.Provenance.SourceLastModified, o.cfg.Now()),
				Kind:           authorityToKind(ds.Provenance.Authority),
				AuthorityLevel: ds.Provenance.Authority,
			}
			claims = append(claims, claim)
			datasetByClaim[claim.SourceID] = ds
		}

		if len(claims) == 0 {
			continue
		}

		decision, err := o.resolver.ResolveConflict(muniID, claims)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: resolve conflict: %v", muniID, err))
			continue
		}

		winner := datasetByClaim[decision.WinnerSourceID]
		committed, err := o.commit(ctx, runID, muniID, muniByID[muniID], decision, winner, triedSourceIDs)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: commit: %v", muniID, err))
			continue
		}
		if committed {
			updated = append(updated, muniID)
		}
	}

	return updated, errs
}

// commit implements the protocol: compute hash+bbox, skip if the head's
// current artifact already has that hash, otherwise insert the artifact,
// upsert the head, update the source checksum, and append a provenance
// entry and UPDATE event — all while holding the per-muni lock so commits
// for the same municipality never interleave. It reports whether a new
// artifact was committed (false when the content was unchanged).
func (o *Orchestrator) commit(ctx context.Context, runID, muniID string, muni model.Municipality, decision model.ResolutionDecision, winner workers.Dataset, triedSourceIDs []string) (bool, error) {
	unlock := o.db.LockMuni(muniID)
	defer unlock()

	payload := winner.Payload
	res := validator.Validate(payload, o.cfg.ValidatorOptions)
	contentHash := sha256Hex(payload)

	if head, err := o.db.GetHead(ctx, muniID); err == nil {
		if existing, err := o.db.GetArtifact(ctx, head.ArtifactID); err == nil && existing.ContentSHA256 == contentHash {
			o.emit(ctx, runID, &muniID, model.EventSkip, map[string]any{"reason": "content unchanged", "sourceId": decision.WinnerSourceID}, nil)
			return false, nil
		}
	}

	artifactID, err := o.db.InsertArtifact(ctx, storage.InsertArtifactParams{
		MuniID:        muniID,
		ContentSHA256: contentHash,
		RecordCount:   res.Metadata.FeatureCount,
		BBox:          res.Metadata.BoundingBox,
	})
	if err != nil {
		return false, errkind.New(errkind.StorageFailure, "orchestrator.commit", err)
	}

	if err := o.db.UpsertHead(ctx, muniID, artifactID); err != nil {
		return false, errkind.New(errkind.StorageFailure, "orchestrator.commit", err)
	}

	now := o.cfg.Now()
	if err := o.db.UpdateSourceChecksum(ctx, decision.WinnerSourceID, contentHash, now, now.AddDate(0, 0, 7)); err != nil {
		o.logger.Warn("failed to update source checksum", "sourceId", decision.WinnerSourceID, "error", err)
	}

	if err := o.db.UpsertSelection(ctx, model.Selection{
		MuniID: muniID, SourceID: decision.WinnerSourceID, SelectedAt: now,
		Reason: decision.Reason, ManualOverride: decision.ManualOverride,
	}); err != nil {
		o.logger.Warn("failed to persist selection", "muniId", muniID, "error", err)
	}

	desc, _ := o.reg.Lookup(decision.WinnerSourceID)
	o.appendDiscoveryEntry(runID, muniID, muni, desc, decision, winner, res, triedSourceIDs, now)

	o.emit(ctx, runID, &muniID, model.EventUpdate, map[string]any{
		"sourceId": decision.WinnerSourceID, "artifactId": artifactID.String(), "contentSha256": contentHash,
	}, nil)
	return true, nil
}

// appendDiscoveryEntry records the winning source's acquisition attempt to
// the provenance log. This pipeline tracks no FIPS code or population for a
// municipality, so FIPS stands in on muniID and Population is left zero.
func (o *Orchestrator) appendDiscoveryEntry(runID, muniID string, muni model.Municipality, desc model.SourceDescriptor, decision model.ResolutionDecision, winner workers.Dataset, res validator.Result, triedSourceIDs []string, now time.Time) {
	why := make([]string, 0, len(decision.Rejected)+1)
	why = append(why, decision.Reason)
	for _, r := range decision.Rejected {
		why = append(why, fmt.Sprintf("%s: %s", r.SourceID, r.Reason))
	}

	dataDate := now
	if winner.Provenance.SourceLastModified != nil {
		dataDate = *winner.Provenance.SourceLastModified
	}

	entry := provenance.Entry{
		FIPS:           muniID,
		CityName:       muni.Name,
		State:          jurisdictionState(desc.Jurisdiction),
		Tier:           model.PrecisionRank(desc.BoundaryType),
		FeatureCount:   res.Metadata.FeatureCount,
		Confidence:     decision.Confidence,
		AuthorityLevel: desc.AuthorityLevel,
		SourceLabel:    desc.Entity,
		URL:            desc.ResolvedURL(now.Year()),
		Quality: model.QualitySnapshot{
			Valid:    res.Valid,
			Topology: len(res.Warnings) == 0,
			DataDate: dataDate,
		},
		WhyStrings: why,
		TriedTiers: triedSourceIDs,
		Timestamp:  now,
		AgentID:    runID,
	}
	if err := o.prov.Append(entry, provenance.AppendOptions{}); err != nil {
		o.logger.Warn("failed to append provenance entry", "muniId", muniID, "error", err)
	}
}

func jurisdictionState(j model.Jurisdiction) string {
	s := string(j)
	if len(s) == 2 {
		return s
	}
	return "US"
}

func authorityToKind(level model.AuthorityLevel) model.SourceKind {
	if level >= model.AuthorityState {
		return model.SourceKindPrimary
	}
	return model.SourceKindAggregator
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func errPtr(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func (o *Orchestrator) emit(ctx context.Context, runID string, muniID *string, kind model.EventKind, payload map[string]any, errMsg *string) {
	if _, err := o.db.InsertEvent(ctx, storage.InsertEventParams{
		RunID: runID, MuniID: muniID, Kind: kind, Payload: payload, Error: errMsg,
	}); err != nil {
		o.logger.Warn("failed to record event", "runId", runID, "kind", kind, "error", err)
	}
}

// Command shadowatlas runs the boundary-acquisition pipeline: one-shot
// incremental/full/force runs for cron-style invocation, plus a family of
// change-check sub-verbs. All of them except monitor report on source
// freshness without mutating anything; monitor runs incremental refreshes
// on an interval.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shadow-atlas/acquisition/internal/comparator"
	"github.com/shadow-atlas/acquisition/internal/config"
	"github.com/shadow-atlas/acquisition/internal/conflicts"
	"github.com/shadow-atlas/acquisition/internal/gap"
	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/orchestrator"
	"github.com/shadow-atlas/acquisition/internal/provenance"
	"github.com/shadow-atlas/acquisition/internal/registry"
	"github.com/shadow-atlas/acquisition/internal/storage"
	"github.com/shadow-atlas/acquisition/internal/telemetry"
	"github.com/shadow-atlas/acquisition/internal/validator"
	"github.com/shadow-atlas/acquisition/internal/workers"

	"github.com/shadow-atlas/acquisition/migrations"
)

// version is the build-time service version reported to OTEL.
var version = "dev"

const (
	exitSuccess = 0
	exitFatal   = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fatal("config", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	verb := "incremental"
	if len(args) > 0 {
		verb = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fatal("telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fatal("storage", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fatal("migrate", err)
	}

	o, err := buildOrchestrator(ctx, db, cfg, logger)
	if err != nil {
		return fatal("wiring", err)
	}

	switch {
	case verb == "incremental":
		return oneShot(ctx, logger, o.RunIncrementalRefresh)
	case verb == "full":
		return oneShotSnapshot(ctx, logger, o)
	case verb == "force":
		return oneShot(ctx, logger, o.ForceCheckAll)
	case strings.HasPrefix(verb, "change-check"):
		return changeCheck(ctx, logger, o, cfg, strings.TrimPrefix(verb, "change-check"))
	default:
		fmt.Fprintf(os.Stderr, "shadowatlas: unknown command %q\n", verb)
		return exitUsage
	}
}

func oneShot(ctx context.Context, logger *slog.Logger, op func(context.Context) (orchestrator.RunResult, error)) int {
	result, err := op(ctx)
	if err != nil {
		return fatal("run", err)
	}
	logResult(logger, result)
	return exitSuccess
}

func oneShotSnapshot(ctx context.Context, logger *slog.Logger, o *orchestrator.Orchestrator) int {
	result, snapshotHash, err := o.RunFullSnapshot(ctx)
	if err != nil {
		return fatal("run", err)
	}
	logger.Info("full snapshot complete", "snapshotHash", snapshotHash)
	logResult(logger, result)
	return exitSuccess
}

func logResult(logger *slog.Logger, result orchestrator.RunResult) {
	logger.Info("run complete",
		"runId", result.RunID,
		"sourcesChecked", result.SourcesChecked,
		"sourcesChanged", result.SourcesChanged,
		"boundariesUpdated", len(result.BoundariesUpdated),
		"errors", len(result.Errors),
		"durationMs", result.DurationMs,
	)
	for _, e := range result.Errors {
		logger.Warn("run error", "detail", e)
	}
}

// changeCheck dispatches the change-check:{daily|force|check <url>|july|
// redistricting|costs|monitor} family. Every sub-verb except monitor is a
// read-only diagnostic; monitor commits through RunIncrementalRefresh.
func changeCheck(ctx context.Context, logger *slog.Logger, o *orchestrator.Orchestrator, cfg config.Config, rest string) int {
	rest = strings.TrimPrefix(rest, ":")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		fmt.Fprintln(os.Stderr, "shadowatlas: change-check requires a sub-verb")
		return exitUsage
	}
	sub, subArgs := fields[0], fields[1:]

	switch sub {
	case "daily", "force":
		results, err := o.DetectOnly(ctx)
		if err != nil {
			return fatal("change-check", err)
		}
		logger.Info("change-check summary", "sub", sub, "sourcesChecked", len(results))
		for _, r := range results {
			if r.HasChanged {
				logger.Info("source changed", "sourceId", r.SourceID, "changeType", r.ChangeType, "action", r.SuggestedAction)
			}
		}
		return exitSuccess

	case "check":
		if len(subArgs) != 1 {
			fmt.Fprintln(os.Stderr, "shadowatlas: change-check:check requires exactly one <url>")
			return exitUsage
		}
		cmp := comparator.New(&http.Client{Timeout: 10 * time.Second})
		check := cmp.CheckSourceFreshness(ctx, subArgs[0])
		logger.Info("freshness check", "url", subArgs[0], "available", check.Available, "etag", derefStr(check.ETag))
		return exitSuccess

	case "july":
		gapDet, err := gap.New()
		if err != nil {
			return fatal("change-check", err)
		}
		asOf := time.Now().UTC()
		cycle := gapDet.GetCurrentCycle(asOf)
		if cycle == nil {
			logger.Info("no active redistricting cycle")
			return exitSuccess
		}
		logger.Info("active cycle", "censusYear", cycle.CensusYear, "gapEnd", cycle.GapEnd, "graceEnd", cycle.GraceEnd)
		for _, s := range gapDet.GetStatesInGap(asOf) {
			logger.Info("state in gap", "state", s.StateCode, "gapDays", s.GapDays, "recommendation", s.Recommendation)
		}
		return exitSuccess

	case "redistricting":
		year := time.Now().UTC().Year()
		logger.Info("redistricting window", "year", year, "inWindow", registry.IsRedistrictingWindow(year))
		return exitSuccess

	case "costs":
		results, err := o.DetectOnly(ctx)
		if err != nil {
			return fatal("change-check", err)
		}
		logger.Info("estimated acquisition cost", "sourcesRegistered", len(results), "estimatedRequests", len(results)*2)
		return exitSuccess

	case "monitor":
		return monitor(ctx, logger, o, cfg.IncrementalInterval)

	default:
		fmt.Fprintf(os.Stderr, "shadowatlas: unknown change-check sub-verb %q\n", sub)
		return exitUsage
	}
}

// monitor runs RunIncrementalRefresh on a fixed interval until the process
// receives a termination signal.
func monitor(ctx context.Context, logger *slog.Logger, o *orchestrator.Orchestrator, interval time.Duration) int {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("monitor started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("monitor stopping")
			return exitSuccess
		case <-ticker.C:
			cycleCtx, cancel := context.WithTimeout(ctx, interval)
			result, err := o.RunIncrementalRefresh(cycleCtx)
			cancel()
			if err != nil {
				logger.Error("monitor cycle failed", "error", err)
				continue
			}
			logResult(logger, result)
		}
	}
}

func buildOrchestrator(ctx context.Context, db *storage.DB, cfg config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	descriptors := registry.DefaultDescriptors()
	reg, err := registry.New(descriptors)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	if err := seedStorage(ctx, db, descriptors); err != nil {
		return nil, fmt.Errorf("seed storage: %w", err)
	}

	gapDet, err := gap.New()
	if err != nil {
		return nil, fmt.Errorf("build gap detector: %w", err)
	}

	prov, err := provenance.New(cfg.ProvenanceDir, logger)
	if err != nil {
		return nil, fmt.Errorf("build provenance writer: %w", err)
	}
	go prov.RunMergeLoop(ctx, cfg.ProvenanceMergeInterval)

	scrapers := buildScrapers(descriptors, cfg)

	validatorOpts := validator.DefaultOptions
	validatorOpts.MinFeatures = 1

	return orchestrator.New(
		db, reg, conflicts.NewResolver(), comparator.New(&http.Client{Timeout: 10 * time.Second}), gapDet, prov,
		scrapers, logger,
		orchestrator.Config{
			MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
			RunTimeout:             cfg.RunTimeout,
			ValidatorOptions:       validatorOpts,
		},
	), nil
}

// seedStorage registers the municipality and canonical source of every
// descriptor that carries a MuniID (descriptors without one, wildcard or
// state-scoped, are skipped), so a fresh database has something for the orchestrator
// to iterate on. Real deployments are expected to manage this table
// directly; this bootstrap exists for the seed catalog to be runnable.
func seedStorage(ctx context.Context, db *storage.DB, descriptors []model.SourceDescriptor) error {
	seen := make(map[string]bool)
	for _, d := range descriptors {
		if d.MuniID == "" || seen[d.MuniID] {
			continue
		}
		seen[d.MuniID] = true
		if err := db.UpsertMunicipality(ctx, model.Municipality{
			MuniID: d.MuniID, Name: d.Entity, State: string(d.Jurisdiction),
		}); err != nil {
			return err
		}
	}
	for _, d := range descriptors {
		if d.MuniID == "" {
			continue
		}
		if err := db.UpsertCanonicalSource(ctx, model.CanonicalSource{
			ID: d.ID, MuniID: d.MuniID, URL: d.ResolvedURL(time.Now().Year()),
			BoundaryType: d.BoundaryType, NextScheduledCheck: time.Now().UTC(),
			UpdateTriggers: d.PublishScheduleHints,
		}); err != nil {
			return err
		}
	}
	return nil
}

// buildScrapers groups the seed catalog by format and wires one worker per
// source family. OSM-format descriptors get a dedicated OSMScraper; every
// other format is fetched directly through MunicipalPortalScraper, which
// matches the seed catalog's fixed-URL descriptors (ArcGIS Portal search and
// CKAN/Socrata discovery need a live search query the static seed doesn't
// carry, and are left to an operator's own target configuration).
func buildScrapers(descriptors []model.SourceDescriptor, cfg config.Config) []workers.ScraperContract {
	var municipal []workers.MunicipalTarget
	var osm []workers.OSMScraper

	for _, d := range descriptors {
		switch d.Format {
		case "osm":
			osm = append(osm, workers.OSMScraper{
				EndpointBaseURL: d.URL, Countries: []string{"US"},
				Jurisdiction: string(d.Jurisdiction), Authority: d.AuthorityLevel,
			})
		case "shapefile":
			// Aggregator shapefile directories are not GeoJSON payloads; the
			// acquisition worker set here only speaks GeoJSON/ArcGIS REST.
		default:
			municipal = append(municipal, workers.MunicipalTarget{
				Endpoint: d.ResolvedURL(time.Now().Year()), Jurisdiction: string(d.Jurisdiction), Authority: d.AuthorityLevel,
			})
		}
	}

	var scrapers []workers.ScraperContract
	if len(municipal) > 0 {
		scrapers = append(scrapers, &workers.MunicipalPortalScraper{Targets: municipal})
	}
	for i := range osm {
		scrapers = append(scrapers, &osm[i])
	}
	return scrapers
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fatal logs a single JSON line to stderr describing op and err, then
// returns the process's fatal exit code.
func fatal(op string, err error) int {
	line, _ := json.Marshal(map[string]string{"op": op, "error": err.Error()})
	fmt.Fprintln(os.Stderr, string(line))
	return exitFatal
}

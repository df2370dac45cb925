// Package provenance is the append-only, state-sharded audit log of
// acquisition attempts: each appended entry is gzipped and never mutated
// once written.
//
// Architecture:
//
//	Append(standard) → per-shard lock → gzip member appended to shard file
//	Append(staging)  → unique per-agent staging file, zero lock contention
//	                 → background merge loop folds staging into shards
//
// Each gzip member holds exactly one NDJSON line, so a shard file is simply
// the concatenation of many small independently-decompressible members —
// the same "rotate, never rewrite" discipline a write-ahead log uses for its
// segments, adapted here to a compressed, queryable append log instead of a
// binary record format.
package provenance

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/telemetry"
)

// Entry is the on-disk record shape: one acquisition attempt, compact-keyed
// per the fixed field names the gzipped NDJSON shards use (§6). Its fields
// mirror model.DiscoveryEntry exactly; provenance re-exports the type so
// callers import one package for both the writer and the record shape.
type Entry = model.DiscoveryEntry

func entryKey(e Entry) string {
	return e.AgentID + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.FIPS + "|" + e.SourceLabel
}

// AppendOptions selects the write mode. The zero value is standard mode.
type AppendOptions struct {
	Staging bool
	AgentID string
}

// Writer is the provenance log for one data directory, sharded by state.
type Writer struct {
	dir    string
	logger *slog.Logger

	shardLocksMu sync.Mutex
	shardLocks   map[string]*sync.Mutex

	stagingSeqMu sync.Mutex
	stagingSeq   int64
}

// New returns a Writer rooted at dir, creating its shard and staging
// subdirectories if they do not exist.
func New(dir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, "shards"), 0o755); err != nil {
		return nil, fmt.Errorf("provenance: create shards dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "staging"), 0o755); err != nil {
		return nil, fmt.Errorf("provenance: create staging dir: %w", err)
	}
	w := &Writer{dir: dir, logger: logger, shardLocks: make(map[string]*sync.Mutex)}
	w.registerMetrics()
	return w, nil
}

// Append records entry. In standard mode it is written directly into its
// state shard under that shard's lock. In staging mode it is written to a
// staging file unique to opts.AgentID, which never contends with any other
// writer.
func (w *Writer) Append(entry Entry, opts AppendOptions) error {
	if opts.Staging {
		return w.appendStaging(entry, opts.AgentID)
	}
	return w.appendShard(entry)
}

func (w *Writer) shardPath(state string) string {
	return filepath.Join(w.dir, "shards", shardFile(state))
}

func shardFile(state string) string {
	return fmt.Sprintf("%s.ndjson.gz", state)
}

func (w *Writer) lockFor(state string) *sync.Mutex {
	w.shardLocksMu.Lock()
	defer w.shardLocksMu.Unlock()
	l, ok := w.shardLocks[state]
	if !ok {
		l = &sync.Mutex{}
		w.shardLocks[state] = l
	}
	return l
}

func (w *Writer) appendShard(entry Entry) error {
	l := w.lockFor(entry.State)
	l.Lock()
	defer l.Unlock()
	return appendGzipMember(w.shardPath(entry.State), entry)
}

// appendGzipMember writes one NDJSON line as its own gzip member, appended
// to path. Concatenated gzip members decompress transparently as a single
// stream, so the shard never needs to be rewritten to grow.
func appendGzipMember(path string, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("provenance: marshal entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("provenance: open shard: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(line); err != nil {
		return fmt.Errorf("provenance: write gzip member: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("provenance: close gzip member: %w", err)
	}
	return nil
}

func (w *Writer) stagingFileName(agentID string) string {
	w.stagingSeqMu.Lock()
	w.stagingSeq++
	seq := w.stagingSeq
	w.stagingSeqMu.Unlock()
	return fmt.Sprintf("%s-%d.ndjson", agentID, seq)
}

func (w *Writer) appendStaging(entry Entry, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("provenance: staging append requires an agent id")
	}
	path := filepath.Join(w.dir, "staging", w.stagingFileName(agentID))
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("provenance: marshal staging entry: %w", err)
	}
	line = append(line, '\n')
	if err := os.WriteFile(path, line, 0o644); err != nil {
		return fmt.Errorf("provenance: write staging file: %w", err)
	}
	return nil
}

// MergeResult summarizes one MergeStagingFiles pass.
type MergeResult struct {
	Merged int
	Errors []error
}

// MergeStagingFiles folds every pending staging file into its canonical
// shard and removes the staging file on success. Duplicate-detection keys
// each entry by (agentId, timestamp, fips, sourceLabel), so re-running a
// merge that was interrupted partway through never double-counts an entry
// already present in the destination shard.
func (w *Writer) MergeStagingFiles() (MergeResult, error) {
	stagingDir := filepath.Join(w.dir, "staging")
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return MergeResult{}, fmt.Errorf("provenance: list staging dir: %w", err)
	}

	byState := map[string][]Entry{}
	paths := map[string][]string{}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(stagingDir, de.Name())
		parsed, err := readNDJSON(path)
		if err != nil {
			w.logger.Warn("provenance: skipping unreadable staging file", "path", path, "error", err)
			continue
		}
		for _, e := range parsed {
			byState[e.State] = append(byState[e.State], e)
			paths[e.State] = append(paths[e.State], path)
		}
	}

	result := MergeResult{}
	mergedFiles := map[string]bool{}
	for state, candidates := range byState {
		l := w.lockFor(state)
		l.Lock()
		n, err := w.mergeIntoShard(state, candidates)
		l.Unlock()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("state %s: %w", state, err))
			continue
		}
		result.Merged += n
		for _, p := range paths[state] {
			mergedFiles[p] = true
		}
	}

	for p := range mergedFiles {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("remove staging file %s: %w", p, err))
		}
	}

	return result, nil
}

func (w *Writer) mergeIntoShard(state string, candidates []Entry) (int, error) {
	existing, err := readShard(w.shardPath(state))
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[entryKey(e)] = true
	}

	merged := 0
	for _, c := range candidates {
		k := entryKey(c)
		if seen[k] {
			continue
		}
		if err := appendGzipMember(w.shardPath(state), c); err != nil {
			return merged, err
		}
		seen[k] = true
		merged++
	}
	return merged, nil
}

// QueryFilter narrows a Query call. Zero-value fields are unconstrained,
// except Tier, whose zero value (0) is the finest civic grain and so must be
// distinguished from "unset" with a pointer.
type QueryFilter struct {
	State         string
	MinConfidence int
	Tier          *int
	Since         time.Time
	Until         time.Time
}

func (f QueryFilter) matches(e Entry) bool {
	if f.State != "" && e.State != f.State {
		return false
	}
	if e.Confidence < f.MinConfidence {
		return false
	}
	if f.Tier != nil && e.Tier != *f.Tier {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Query returns every stored entry matching filter, across every shard (or
// just filter.State's shard when set).
func (w *Writer) Query(filter QueryFilter) ([]Entry, error) {
	states, err := w.shardStates(filter.State)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, state := range states {
		entries, err := readShard(w.shardPath(state))
		if err != nil {
			return nil, fmt.Errorf("provenance: read shard %s: %w", state, err)
		}
		for _, e := range entries {
			if filter.matches(e) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Stats is the per-tier summary returned by GetStats. TierCounts is keyed by
// PRECISION_RANK, not boundary-type name.
type Stats struct {
	TierCounts        map[int]int
	TotalEntries      int
	AverageConfidence float64
}

// GetStats scans every shard and returns per-tier counts and the overall
// average confidence.
func (w *Writer) GetStats() (Stats, error) {
	entries, err := w.Query(QueryFilter{})
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TierCounts: map[int]int{}}
	var confidenceSum float64
	for _, e := range entries {
		stats.TierCounts[e.Tier]++
		confidenceSum += float64(e.Confidence)
	}
	stats.TotalEntries = len(entries)
	if stats.TotalEntries > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalEntries)
	}
	return stats, nil
}

func (w *Writer) shardStates(onlyState string) ([]string, error) {
	if onlyState != "" {
		return []string{onlyState}, nil
	}
	entries, err := os.ReadDir(filepath.Join(w.dir, "shards"))
	if err != nil {
		return nil, fmt.Errorf("provenance: list shards dir: %w", err)
	}
	var states []string
	for _, de := range entries {
		name := de.Name()
		if filepath.Ext(name) == ".gz" {
			states = append(states, name[:len(name)-len(".ndjson.gz")])
		}
	}
	return states, nil
}

// readShard decompresses every concatenated gzip member in path and parses
// each NDJSON line. A missing shard file is treated as empty, not an error.
func readShard(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("provenance: open shard: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("provenance: open gzip reader: %w", err)
	}
	gz.Multistream(true)
	defer gz.Close()

	var entries []Entry
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("provenance: parse shard line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("provenance: scan shard: %w", err)
	}
	return entries, nil
}

func readNDJSON(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// RunMergeLoop periodically calls MergeStagingFiles until ctx is cancelled,
// logging each pass. It mirrors a write-ahead log's batch-sync ticker, here
// applied to folding staging writes into shards instead of fsyncing them.
func (w *Writer) RunMergeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := w.MergeStagingFiles()
			if err != nil {
				w.logger.Warn("provenance: merge pass failed", "error", err)
				continue
			}
			if result.Merged > 0 || len(result.Errors) > 0 {
				w.logger.Info("provenance: merge pass complete", "merged", result.Merged, "errors", len(result.Errors))
			}
		}
	}
}

func (w *Writer) registerMetrics() {
	meter := telemetry.Meter("shadowatlas/provenance")
	_, _ = meter.Int64ObservableGauge("shadowatlas.provenance.pending_staging_files",
		metric.WithDescription("Number of unreconciled staging files awaiting merge"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			entries, err := os.ReadDir(filepath.Join(w.dir, "staging"))
			if err != nil {
				return nil
			}
			o.Observe(int64(len(entries)))
			return nil
		}),
	)
}

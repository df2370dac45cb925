// Package workers implements the acquisition-side ScraperContract: one
// module per source family (ArcGIS Portal, state GIS portal, OSM, municipal
// portal, direct map-server), each returning in-memory datasets for the
// orchestrator to validate, resolve, and commit. Workers never write
// artifacts themselves.
package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/shadow-atlas/acquisition/internal/errkind"
	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/retry"
)

// Config is the per-scraper configuration surface from §6.
type Config struct {
	MaxParallel       int
	RateLimit         float64 // requests per second
	Timeout           time.Duration
	MaxRetries        int
	BackoffMultiplier float64
	UserAgent         string
}

// DefaultRateLimits are the per-family token-bucket defaults from §5.
var DefaultRateLimits = map[string]float64{
	"arcgis-portal": 10,
	"state-gis":     5,
	"osm":           1,
}

// withDefaults fills in any zero-valued fields with sane defaults so a
// caller only needs to set what it cares about.
func (c Config) withDefaults(family string) Config {
	out := c
	if out.MaxParallel <= 0 {
		out.MaxParallel = 10
	}
	if out.RateLimit <= 0 {
		out.RateLimit = DefaultRateLimits[family]
		if out.RateLimit <= 0 {
			out.RateLimit = 1
		}
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.BackoffMultiplier <= 0 {
		out.BackoffMultiplier = 2
	}
	if out.UserAgent == "" {
		out.UserAgent = "Shadow-Atlas-Acquisition/1.0"
	}
	return out
}

// ValidationSummary is the validator outcome embedded in a dataset's
// provenance, before the full ProvenanceRecord is assembled downstream.
type ValidationSummary struct {
	Confidence int
	Issues     []string
	Warnings   []string
	Timestamp  time.Time
}

// DatasetProvenance is the per-dataset audit record a scraper attaches to
// every successfully fetched payload.
type DatasetProvenance struct {
	Source             string
	Authority          model.AuthorityLevel
	Jurisdiction        string
	Timestamp          time.Time
	SourceLastModified *time.Time
	Method             string
	ResponseSHA256     string
	HTTPStatus         int
	License            string
	FeatureCount       int
	GeometryType       string // "Polygon" | "MultiPolygon"
	CoordinateSystem   string // "EPSG:4326"
	Validation         ValidationSummary
}

// Dataset is one successfully fetched, as-yet-unvalidated payload.
type Dataset struct {
	Payload    []byte
	Provenance DatasetProvenance
}

// Failure records one source that could not be fetched.
type Failure struct {
	Source string
	Error  string
}

// Result is the outcome of one ScrapeAll call.
type Result struct {
	Datasets        []Dataset
	Failures        []Failure
	ExecutionTimeMs int64
}

// ScraperContract is implemented by every source-family worker.
type ScraperContract interface {
	ScrapeAll(ctx context.Context, cfg Config) (Result, error)
}

// fetcher provides the shared HTTP discipline every worker needs:
// token-bucket rate limiting, per-request timeout, and retry with
// exponential backoff.
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
}

func newFetcher(cfg Config, family string) *fetcher {
	cfg = cfg.withDefaults(family)
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return &fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		cfg:     cfg,
	}
}

// fetchResult is the raw outcome of one conditional GET.
type fetchResult struct {
	Body         []byte
	StatusCode   int
	NotModified  bool
	LastModified *time.Time
	ETag         string
}

// get performs a rate-limited, retried GET against url. If ifNoneMatch is
// set, a 304 is reported as NotModified rather than an error, per §6's
// conditional-GET contract.
func (f *fetcher) get(ctx context.Context, url, ifNoneMatch string) (fetchResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return fetchResult{}, errkind.New(errkind.CancelledByTimeout, "workers.get", err)
	}

	policy := retry.Policy{
		MaxAttempts: f.cfg.MaxRetries + 1,
		Base:        time.Second,
		Max:         10 * time.Second,
	}

	var result fetchResult
	err := policy.Do(ctx, isRetriableHTTPErr, func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return rerr
		}
		req.Header.Set("User-Agent", f.cfg.UserAgent)
		if ifNoneMatch != "" {
			req.Header.Set("If-None-Match", ifNoneMatch)
		}

		resp, rerr := f.client.Do(req)
		if rerr != nil {
			return rerr
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			result = fetchResult{StatusCode: resp.StatusCode, NotModified: true}
			return nil
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("workers: %s: server error %d", url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return errkind.New(errkind.NetworkPermanent, "workers.get", fmt.Errorf("status %d", resp.StatusCode))
		}

		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return rerr
		}
		result = fetchResult{Body: body, StatusCode: resp.StatusCode}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, perr := http.ParseTime(lm); perr == nil {
				result.LastModified = &t
			}
		}
		result.ETag = resp.Header.Get("ETag")
		return nil
	})
	if err != nil {
		return fetchResult{}, err
	}
	return result, nil
}

func isRetriableHTTPErr(err error) bool {
	return err != nil && !errkind.Is(err, errkind.NetworkPermanent)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// geometryTypeOf inspects a raw GeoJSON FeatureCollection and reports the
// dominant geometry type, defaulting to "Polygon" when it cannot tell.
func geometryTypeOf(payload []byte) string {
	var fc struct {
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(payload, &fc); err != nil {
		return "Polygon"
	}
	for _, f := range fc.Features {
		if f.Geometry.Type == "MultiPolygon" {
			return "MultiPolygon"
		}
	}
	return "Polygon"
}

func featureCountOf(payload []byte) int {
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(payload, &fc); err != nil {
		return 0
	}
	return len(fc.Features)
}

package workers

import (
	"context"
	"time"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// SearchStrategy selects how a StateGISScraper locates its target layer.
type SearchStrategy string

const (
	StrategyDirectLayer        SearchStrategy = "direct-layer"
	StrategyHubAPISearch       SearchStrategy = "hub-api-search"
	StrategyCatalogAPI         SearchStrategy = "catalog-api" // CKAN or Socrata
	StrategyRESTAPIEnumeration SearchStrategy = "rest-api-enumeration"
)

// StateGISTarget is one registered state GIS portal to scrape.
type StateGISTarget struct {
	Endpoint     string
	Strategy     SearchStrategy
	Jurisdiction string
	Authority    model.AuthorityLevel
}

// StateGISScraper fetches boundary layers from state GIS portals, dispatching
// per-target on the registered search strategy.
type StateGISScraper struct {
	Targets []StateGISTarget
}

func (s *StateGISScraper) ScrapeAll(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()
	f := newFetcher(cfg, "state-gis")

	var result Result
	for _, t := range s.Targets {
		ds, warnings, failures := s.scrapeOne(ctx, f, t)
		result.Datasets = append(result.Datasets, ds...)
		result.Failures = append(result.Failures, failures...)
		for _, w := range warnings {
			result.Failures = append(result.Failures, Failure{Source: t.Endpoint, Error: "warning: " + w})
		}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (s *StateGISScraper) scrapeOne(ctx context.Context, f *fetcher, t StateGISTarget) ([]Dataset, []string, []Failure) {
	switch t.Strategy {
	case StrategyDirectLayer:
		return s.directLayer(ctx, f, t)
	case StrategyHubAPISearch:
		return s.hubAPISearch(ctx, f, t)
	case StrategyCatalogAPI:
		return s.catalogAPI(ctx, f, t)
	case StrategyRESTAPIEnumeration:
		return s.restAPIEnumeration(ctx, f, t)
	default:
		// Unsupported strategies return an empty result with a warning, not
		// an error.
		return nil, []string{"unsupported search strategy: " + string(t.Strategy)}, nil
	}
}

func (s *StateGISScraper) fetchOne(ctx context.Context, f *fetcher, t StateGISTarget, method string) ([]Dataset, []string, []Failure) {
	fr, err := f.get(ctx, t.Endpoint, "")
	if err != nil {
		return nil, nil, []Failure{{Source: t.Endpoint, Error: err.Error()}}
	}
	return []Dataset{{
		Payload: fr.Body,
		Provenance: DatasetProvenance{
			Source:             t.Endpoint,
			Authority:          t.Authority,
			Jurisdiction:       t.Jurisdiction,
			Timestamp:          time.Now().UTC(),
			SourceLastModified: fr.LastModified,
			Method:             method,
			ResponseSHA256:     sha256Hex(fr.Body),
			HTTPStatus:         fr.StatusCode,
			FeatureCount:       featureCountOf(fr.Body),
			GeometryType:       geometryTypeOf(fr.Body),
			CoordinateSystem:   "EPSG:4326",
		},
	}}, nil, nil
}

func (s *StateGISScraper) directLayer(ctx context.Context, f *fetcher, t StateGISTarget) ([]Dataset, []string, []Failure) {
	return s.fetchOne(ctx, f, t, "state-gis-direct-layer")
}

func (s *StateGISScraper) hubAPISearch(ctx context.Context, f *fetcher, t StateGISTarget) ([]Dataset, []string, []Failure) {
	return s.fetchOne(ctx, f, t, "state-gis-hub-api-search")
}

func (s *StateGISScraper) catalogAPI(ctx context.Context, f *fetcher, t StateGISTarget) ([]Dataset, []string, []Failure) {
	return s.fetchOne(ctx, f, t, "state-gis-catalog-api")
}

func (s *StateGISScraper) restAPIEnumeration(ctx context.Context, f *fetcher, t StateGISTarget) ([]Dataset, []string, []Failure) {
	return s.fetchOne(ctx, f, t, "state-gis-rest-api-enumeration")
}

package workers

import (
	"context"
	"net/url"
	"time"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// overpassMinTimeout is the minimum per-request timeout for Overpass-like
// global queries, which run over large country-sized areas.
const overpassMinTimeout = 3 * time.Minute

// OSMScraper issues country-chunked Overpass-like queries against an
// OpenStreetMap boundary extract endpoint.
type OSMScraper struct {
	EndpointBaseURL string // e.g. an Overpass API interpreter URL
	Countries       []string
	Jurisdiction    string
	Authority       model.AuthorityLevel
}

func (s *OSMScraper) ScrapeAll(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()
	if cfg.Timeout < overpassMinTimeout {
		cfg.Timeout = overpassMinTimeout
	}
	f := newFetcher(cfg, "osm")

	var result Result
	for _, country := range s.Countries {
		query := overpassBoundaryQuery(country)
		fullURL := s.EndpointBaseURL + "?data=" + url.QueryEscape(query)

		fr, err := f.get(ctx, fullURL, "")
		if err != nil {
			result.Failures = append(result.Failures, Failure{Source: country, Error: err.Error()})
			continue
		}
		result.Datasets = append(result.Datasets, Dataset{
			Payload: fr.Body,
			Provenance: DatasetProvenance{
				Source:             fullURL,
				Authority:          s.Authority,
				Jurisdiction:       s.Jurisdiction,
				Timestamp:          time.Now().UTC(),
				SourceLastModified: fr.LastModified,
				Method:             "osm-overpass",
				ResponseSHA256:     sha256Hex(fr.Body),
				HTTPStatus:         fr.StatusCode,
				FeatureCount:       featureCountOf(fr.Body),
				GeometryType:       geometryTypeOf(fr.Body),
				CoordinateSystem:   "EPSG:4326",
			},
		})
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// overpassBoundaryQuery builds an Overpass QL query for administrative
// boundary ways/relations within country.
func overpassBoundaryQuery(country string) string {
	return `[out:json][timeout:180];area["ISO3166-1"="` + country + `"]->.a;` +
		`(relation["boundary"="administrative"](area.a););out geom;`
}

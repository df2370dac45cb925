package workers

import (
	"context"
	"time"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// MunicipalTarget is one known city/county portal endpoint that publishes a
// boundary layer directly (not via a generic ArcGIS/CKAN/Socrata search).
type MunicipalTarget struct {
	Endpoint     string
	Jurisdiction string
	Authority    model.AuthorityLevel
	License      string
}

// MunicipalPortalScraper fetches boundary layers from a fixed list of known
// municipal GIS portals.
type MunicipalPortalScraper struct {
	Targets []MunicipalTarget
}

func (s *MunicipalPortalScraper) ScrapeAll(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()
	f := newFetcher(cfg, "municipal-portal")

	var result Result
	for _, t := range s.Targets {
		fr, err := f.get(ctx, t.Endpoint, "")
		if err != nil {
			result.Failures = append(result.Failures, Failure{Source: t.Endpoint, Error: err.Error()})
			continue
		}
		result.Datasets = append(result.Datasets, Dataset{
			Payload: fr.Body,
			Provenance: DatasetProvenance{
				Source:             t.Endpoint,
				Authority:          t.Authority,
				Jurisdiction:       t.Jurisdiction,
				Timestamp:          time.Now().UTC(),
				SourceLastModified: fr.LastModified,
				Method:             "known-municipal-portal",
				ResponseSHA256:     sha256Hex(fr.Body),
				HTTPStatus:         fr.StatusCode,
				License:            t.License,
				FeatureCount:       featureCountOf(fr.Body),
				GeometryType:       geometryTypeOf(fr.Body),
				CoordinateSystem:   "EPSG:4326",
			},
		})
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

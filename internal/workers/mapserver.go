package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// MapServerTarget is a raw map-server endpoint to enumerate layer-by-layer,
// used when a source exposes a generic server (not cataloged by ArcGIS
// Portal search or a state GIS hub).
type MapServerTarget struct {
	ServiceURL   string
	LayerIDs     []int
	Jurisdiction string
	Authority    model.AuthorityLevel
}

// DirectMapServerScraper queries an explicit set of layer IDs on a known map
// server, bypassing catalog discovery entirely.
type DirectMapServerScraper struct {
	Targets []MapServerTarget
}

func (s *DirectMapServerScraper) ScrapeAll(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()
	f := newFetcher(cfg, "map-server")

	var result Result
	for _, t := range s.Targets {
		for _, layerID := range t.LayerIDs {
			layerURL := fmt.Sprintf("%s/%d/query?where=1=1&outFields=*&f=geojson&returnGeometry=true", t.ServiceURL, layerID)
			fr, err := f.get(ctx, layerURL, "")
			if err != nil {
				result.Failures = append(result.Failures, Failure{Source: layerURL, Error: err.Error()})
				continue
			}
			result.Datasets = append(result.Datasets, Dataset{
				Payload: fr.Body,
				Provenance: DatasetProvenance{
					Source:             layerURL,
					Authority:          t.Authority,
					Jurisdiction:       t.Jurisdiction,
					Timestamp:          time.Now().UTC(),
					SourceLastModified: fr.LastModified,
					Method:             "direct-map-server-enumeration",
					ResponseSHA256:     sha256Hex(fr.Body),
					HTTPStatus:         fr.StatusCode,
					FeatureCount:       featureCountOf(fr.Body),
					GeometryType:       geometryTypeOf(fr.Body),
					CoordinateSystem:   "EPSG:4326",
				},
			})
		}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// polygonGeometryTypes are the ArcGIS geometryType values that indicate a
// layer holds polygon data.
var polygonGeometryTypes = map[string]bool{
	"esriGeometryPolygon":      true,
	"Polygon":                  true,
	"esriGeometryMultiPolygon": true,
}

// ArcGISPortalScraper discovers boundary layers via ArcGIS Portal's global
// search endpoint, then queries each polygon layer it finds.
type ArcGISPortalScraper struct {
	// PortalBaseURL is the ArcGIS Portal root, e.g. "https://www.arcgis.com".
	PortalBaseURL string
	// Query is the portal search term, e.g. "congressional districts".
	Query        string
	Jurisdiction string
	Authority    model.AuthorityLevel
	MaxPages     int
}

type arcgisSearchResponse struct {
	Total     int    `json:"total"`
	Start     int    `json:"start"`
	Num       int    `json:"num"`
	NextStart int    `json:"nextStart"`
	Results   []arcgisSearchResult `json:"results"`
}

type arcgisSearchResult struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type arcgisServiceMetadata struct {
	Layers []arcgisLayer `json:"layers"`
}

type arcgisLayer struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	GeometryType string `json:"geometryType"`
}

// ScrapeAll searches the portal for Query, fetches each result's feature
// service metadata, and queries every polygon layer it finds.
func (s *ArcGISPortalScraper) ScrapeAll(ctx context.Context, cfg Config) (Result, error) {
	start := time.Now()
	f := newFetcher(cfg, "arcgis-portal")

	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	var candidates []arcgisSearchResult
	var result Result

	pageStart := 1
	for page := 0; page < maxPages; page++ {
		searchURL := fmt.Sprintf("%s/sharing/rest/search?q=%s&f=json&num=100&start=%d&sortField=modified&sortOrder=desc",
			s.PortalBaseURL, url.QueryEscape(s.Query), pageStart)

		fr, err := f.get(ctx, searchURL, "")
		if err != nil {
			result.Failures = append(result.Failures, Failure{Source: searchURL, Error: err.Error()})
			break
		}
		var resp arcgisSearchResponse
		if err := json.Unmarshal(fr.Body, &resp); err != nil {
			result.Failures = append(result.Failures, Failure{Source: searchURL, Error: "parse search response: " + err.Error()})
			break
		}
		candidates = append(candidates, resp.Results...)
		if resp.NextStart <= 0 {
			break
		}
		pageStart = resp.NextStart
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(cfg.MaxParallel, 1))

	var mu sync.Mutex
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			ds, failures := s.fetchLayers(gctx, f, cand)
			mu.Lock()
			result.Datasets = append(result.Datasets, ds...)
			result.Failures = append(result.Failures, failures...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (s *ArcGISPortalScraper) fetchLayers(ctx context.Context, f *fetcher, cand arcgisSearchResult) ([]Dataset, []Failure) {
	metaURL := cand.URL + "?f=json"
	fr, err := f.get(ctx, metaURL, "")
	if err != nil {
		return nil, []Failure{{Source: cand.URL, Error: err.Error()}}
	}

	var meta arcgisServiceMetadata
	if err := json.Unmarshal(fr.Body, &meta); err != nil {
		return nil, []Failure{{Source: cand.URL, Error: "parse service metadata: " + err.Error()}}
	}

	var datasets []Dataset
	var failures []Failure
	for _, layer := range meta.Layers {
		if !polygonGeometryTypes[layer.GeometryType] {
			continue
		}
		layerURL := fmt.Sprintf("%s/%d/query?where=1=1&outFields=*&f=geojson&returnGeometry=true", cand.URL, layer.ID)
		lfr, err := f.get(ctx, layerURL, "")
		if err != nil {
			failures = append(failures, Failure{Source: layerURL, Error: err.Error()})
			continue
		}
		datasets = append(datasets, Dataset{
			Payload: lfr.Body,
			Provenance: DatasetProvenance{
				Source:           layerURL,
				Authority:        s.Authority,
				Jurisdiction:     s.Jurisdiction,
				Timestamp:        time.Now().UTC(),
				SourceLastModified: lfr.LastModified,
				Method:           "arcgis-layer-query",
				ResponseSHA256:   sha256Hex(lfr.Body),
				HTTPStatus:       lfr.StatusCode,
				FeatureCount:     featureCountOf(lfr.Body),
				GeometryType:     geometryTypeOf(lfr.Body),
				CoordinateSystem: "EPSG:4326",
			},
		})
	}
	return datasets, failures
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

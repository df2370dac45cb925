// Package validator performs structural and semantic validation of
// downloaded boundary payloads before they are persisted, per an additive
// confidence score rather than a pass/fail schema check.
package validator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// sensitivePropertyKey flags property keys that indicate a payload is not a
// boundary dataset at all (parcel/precinct/voting data, etc).
var sensitivePropertyKey = regexp.MustCompile(`(?i)(precinct|parcel|lot|voting|polling|canopy|zoning)`)

// representativePropertyKey flags property keys typical of a legitimate
// district/ward boundary dataset.
var representativePropertyKey = regexp.MustCompile(`(?i)(district|ward|council|member|representative)`)

// Options configures the acceptance thresholds. Zero value is invalid; use
// DefaultOptions.
type Options struct {
	MinFeatures     int
	MaxFeatures     int
	RequirePolygons bool
	StrictBounds    bool
}

// DefaultOptions matches §4.7's documented defaults.
var DefaultOptions = Options{MinFeatures: 1, MaxFeatures: 100, RequirePolygons: true, StrictBounds: true}

// Disposition is the routing decision a ValidationResult's confidence maps
// to.
type Disposition string

const (
	DispositionReject Disposition = "reject" // confidence < 60, discarded
	DispositionReview Disposition = "review" // 60-84, persisted to review staging
	DispositionAccept Disposition = "accept" // >= 85
)

// Metadata summarizes the structural shape of a validated payload.
type Metadata struct {
	FeatureCount  int
	GeometryTypes []string
	PropertyKeys  []string
	BoundingBox   *model.BBox
}

// Result is the outcome of validating one payload.
type Result struct {
	Valid       bool
	Confidence  int
	Issues      []string
	Warnings    []string
	Metadata    Metadata
	Disposition Disposition
}

type geoFeature struct {
	Type       string         `json:"type"`
	Geometry   *geoGeometry   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoGeometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

type featureCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// Validate scores raw (an untrusted JSON document) against opts and returns
// the resulting Result with its final Disposition set.
func Validate(raw []byte, opts Options) Result {
	var fc featureCollection
	if err := json.Unmarshal(raw, &fc); err != nil || !strings.EqualFold(fc.Type, "FeatureCollection") {
		r := Result{Issues: []string{"payload is not a valid GeoJSON FeatureCollection"}}
		return finalize(r, opts)
	}

	r := Result{Metadata: Metadata{FeatureCount: len(fc.Features)}}

	if len(fc.Features) < opts.MinFeatures {
		r.Issues = append(r.Issues, "featureCount below minimum")
	}
	if len(fc.Features) > opts.MaxFeatures {
		r.Issues = append(r.Issues, "featureCount above maximum")
	}

	geomTypes := map[string]bool{}
	propKeys := map[string]bool{}
	hasNonPolygon := false
	hasMissingGeometry := false
	sawRepresentativeKey := false
	var bbox *model.BBox

	for _, f := range fc.Features {
		if f.Geometry == nil || f.Geometry.Type == "" {
			hasMissingGeometry = true
			continue
		}
		geomTypes[f.Geometry.Type] = true
		if f.Geometry.Type != "Polygon" && f.Geometry.Type != "MultiPolygon" {
			hasNonPolygon = true
		}

		for k := range f.Properties {
			propKeys[k] = true
			if sensitivePropertyKey.MatchString(k) {
				r.Issues = append(r.Issues, "property key \""+k+"\" suggests non-boundary (parcel/precinct/voting) data")
			}
			if representativePropertyKey.MatchString(k) {
				sawRepresentativeKey = true
			}
		}

		fb, rings, outOfBounds := geometryBounds(f.Geometry)
		if outOfBounds {
			r.Issues = append(r.Issues, "coordinate outside WGS84 bounds")
		}
		for _, issue := range ringWarnings(rings) {
			r.Warnings = append(r.Warnings, issue)
		}
		if fb != nil {
			bbox = mergeBBox(bbox, fb)
		}
	}

	if opts.RequirePolygons && hasMissingGeometry {
		r.Issues = append(r.Issues, "feature missing geometry while polygons are required")
	}

	for t := range geomTypes {
		r.Metadata.GeometryTypes = append(r.Metadata.GeometryTypes, t)
	}
	for k := range propKeys {
		r.Metadata.PropertyKeys = append(r.Metadata.PropertyKeys, k)
	}
	r.Metadata.BoundingBox = bbox

	if hasNonPolygon && len(geomTypes) > 1 {
		r.Warnings = append(r.Warnings, "mixed geometry types with at least one non-polygon")
	}
	if !sawRepresentativeKey {
		r.Warnings = append(r.Warnings, "no property key resembles a district/ward/representative field")
	}
	if bbox != nil && opts.StrictBounds {
		if bbox.LonSpan() > 10 || bbox.LatSpan() > 10 {
			r.Warnings = append(r.Warnings, "bounding box spans more than 10 degrees on an axis")
		}
		if bbox.LonSpan() < 0.001 || bbox.LatSpan() < 0.001 {
			r.Warnings = append(r.Warnings, "bounding box spans less than 0.001 degrees on an axis")
		}
	}

	return finalize(r, opts)
}

func finalize(r Result, opts Options) Result {
	hasHardIssues := len(r.Issues) > 0
	confidence := 100
	confidence -= 50 * len(r.Issues)
	confidence -= 5 * len(r.Warnings)

	if !hasHardIssues {
		if representativePropertyKeyPresent(r.Metadata.PropertyKeys) {
			confidence += 10
		}
		if allPolygons(r.Metadata.GeometryTypes) {
			confidence += 10
		}
		if r.Metadata.FeatureCount >= 3 && r.Metadata.FeatureCount <= 50 {
			confidence += 10
		}
	}

	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}
	r.Confidence = confidence

	switch {
	case confidence < 60:
		r.Disposition = DispositionReject
		r.Valid = false
	case confidence < 85:
		r.Disposition = DispositionReview
		r.Valid = true
	default:
		r.Disposition = DispositionAccept
		r.Valid = true
	}
	return r
}

func representativePropertyKeyPresent(keys []string) bool {
	for _, k := range keys {
		if representativePropertyKey.MatchString(k) {
			return true
		}
	}
	return false
}

func allPolygons(types []string) bool {
	if len(types) == 0 {
		return false
	}
	for _, t := range types {
		if t != "Polygon" && t != "MultiPolygon" {
			return false
		}
	}
	return true
}

// geometryBounds walks a geometry's coordinate tree, returning its bounding
// box, its rings (for polygon/multipolygon structural checks), and whether
// any coordinate fell outside WGS84.
func geometryBounds(g *geoGeometry) (*model.BBox, [][][2]float64, bool) {
	var rings [][][2]float64
	var bbox *model.BBox
	outOfBounds := false

	var walkPoint func(pt []any)
	walkPoint = func(pt []any) {
		if len(pt) < 2 {
			return
		}
		lon, lonOK := pt[0].(float64)
		lat, latOK := pt[1].(float64)
		if !lonOK || !latOK {
			return
		}
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			outOfBounds = true
		}
		if bbox == nil {
			bbox = &model.BBox{MinLon: lon, MaxLon: lon, MinLat: lat, MaxLat: lat}
			return
		}
		if lon < bbox.MinLon {
			bbox.MinLon = lon
		}
		if lon > bbox.MaxLon {
			bbox.MaxLon = lon
		}
		if lat < bbox.MinLat {
			bbox.MinLat = lat
		}
		if lat > bbox.MaxLat {
			bbox.MaxLat = lat
		}
	}

	var walkRing func(ring any)
	walkRing = func(ring any) {
		points, ok := ring.([]any)
		if !ok {
			return
		}
		var r [][2]float64
		for _, p := range points {
			pt, ok := p.([]any)
			if !ok {
				continue
			}
			walkPoint(pt)
			if lon, lok := pt[0].(float64); lok && len(pt) >= 2 {
				if lat, latok := pt[1].(float64); latok {
					r = append(r, [2]float64{lon, lat})
				}
			}
		}
		rings = append(rings, r)
	}

	switch g.Type {
	case "Polygon":
		if polyRings, ok := g.Coordinates.([]any); ok {
			for _, ring := range polyRings {
				walkRing(ring)
			}
		}
	case "MultiPolygon":
		if polys, ok := g.Coordinates.([]any); ok {
			for _, poly := range polys {
				if polyRings, ok := poly.([]any); ok {
					for _, ring := range polyRings {
						walkRing(ring)
					}
				}
			}
		}
	default:
		// Points/lines contribute to the bounding box but not to ring checks.
		flattenAny(g.Coordinates, walkPoint)
	}

	return bbox, rings, outOfBounds
}

// flattenAny recurses into an arbitrarily-nested coordinate array looking
// for [lon, lat, ...] leaves.
func flattenAny(v any, visit func([]any)) {
	arr, ok := v.([]any)
	if !ok {
		return
	}
	if len(arr) >= 2 {
		if _, ok := arr[0].(float64); ok {
			if _, ok := arr[1].(float64); ok {
				visit(arr)
				return
			}
		}
	}
	for _, el := range arr {
		flattenAny(el, visit)
	}
}

func ringWarnings(rings [][][2]float64) []string {
	var warnings []string
	for _, r := range rings {
		if len(r) == 0 {
			warnings = append(warnings, "ring is empty")
			continue
		}
		if len(r) < 4 {
			warnings = append(warnings, "ring has fewer than 4 vertices")
			continue
		}
		if r[0] != r[len(r)-1] {
			warnings = append(warnings, "ring is not closed")
		}
	}
	return warnings
}

func mergeBBox(a, b *model.BBox) *model.BBox {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := *a
	if b.MinLon < out.MinLon {
		out.MinLon = b.MinLon
	}
	if b.MaxLon > out.MaxLon {
		out.MaxLon = b.MaxLon
	}
	if b.MinLat < out.MinLat {
		out.MinLat = b.MinLat
	}
	if b.MaxLat > out.MaxLat {
		out.MaxLat = b.MaxLat
	}
	return &out
}

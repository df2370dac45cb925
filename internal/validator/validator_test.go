package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_NotAFeatureCollectionRejects(t *testing.T) {
	r := Validate([]byte(`{"type":"Feature"}`), DefaultOptions)
	assert.False(t, r.Valid)
	assert.Equal(t, DispositionReject, r.Disposition)
	assert.Contains(t, r.Issues[0], "not a valid GeoJSON FeatureCollection")
}

func TestValidate_MalformedJSONRejects(t *testing.T) {
	r := Validate([]byte(`not json`), DefaultOptions)
	assert.Equal(t, DispositionReject, r.Disposition)
}

func TestValidate_GoodPolygonPayloadAccepts(t *testing.T) {
	payload := `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","properties":{"district":"1"},"geometry":{"type":"Polygon","coordinates":[[[-122.4,37.7],[-122.3,37.7],[-122.3,37.8],[-122.4,37.7]]]}}},` +
		`{"type":"Feature","properties":{"ward":"2"},"geometry":{"type":"Polygon","coordinates":[[[-122.5,37.7],[-122.4,37.7],[-122.4,37.8],[-122.5,37.7]]]}}},` +
		`{"type":"Feature","properties":{"council":"3"},"geometry":{"type":"Polygon","coordinates":[[[-122.6,37.7],[-122.5,37.7],[-122.5,37.8],[-122.6,37.7]]]}}}` +
		`]}`
	r := Validate([]byte(payload), DefaultOptions)
	assert.True(t, r.Valid)
	assert.Equal(t, DispositionAccept, r.Disposition)
	assert.Equal(t, 3, r.Metadata.FeatureCount)
	assert.NotNil(t, r.Metadata.BoundingBox)
}

func TestValidate_SensitivePropertyKeyIsHardIssue(t *testing.T) {
	payload := `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","properties":{"parcel_id":"123"},"geometry":{"type":"Polygon","coordinates":[[[-122.4,37.7],[-122.3,37.7],[-122.3,37.8],[-122.4,37.7]]]}}}` +
		`]}`
	r := Validate([]byte(payload), DefaultOptions)
	assert.Equal(t, DispositionReject, r.Disposition)
	found := false
	for _, issue := range r.Issues {
		if strings.Contains(issue, "parcel_id") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_TooFewFeaturesIsHardIssue(t *testing.T) {
	r := Validate([]byte(`{"type":"FeatureCollection","features":[]}`), DefaultOptions)
	assert.Equal(t, DispositionReject, r.Disposition)
	assert.Contains(t, r.Issues, "featureCount below minimum")
}

func TestValidate_TooManyFeaturesIsHardIssue(t *testing.T) {
	one := `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-122.4,37.7],[-122.3,37.7],[-122.3,37.8],[-122.4,37.7]]]}}}`
	features := make([]string, 101)
	for i := range features {
		features[i] = one
	}
	r := Validate([]byte(`{"type":"FeatureCollection","features":[`+strings.Join(features, ",")+`]}`), DefaultOptions)
	assert.Equal(t, DispositionReject, r.Disposition)
	assert.Contains(t, r.Issues, "featureCount above maximum")
}

func TestValidate_CoordinateOutOfWGS84IsHardIssue(t *testing.T) {
	payload := `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","properties":{"district":"1"},"geometry":{"type":"Polygon","coordinates":[[[200,37.7],[-122.3,37.7],[-122.3,37.8],[200,37.7]]]}}}` +
		`]}`
	r := Validate([]byte(payload), DefaultOptions)
	assert.Equal(t, DispositionReject, r.Disposition)
	assert.Contains(t, r.Issues, "coordinate outside WGS84 bounds")
}

func TestValidate_NonClosedRingIsWarningOnly(t *testing.T) {
	payload := `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","properties":{"district":"1"},"geometry":{"type":"Polygon","coordinates":[[[-122.4,37.7],[-122.3,37.7],[-122.3,37.8],[-122.35,37.75]]]}}}` +
		`]}`
	r := Validate([]byte(payload), DefaultOptions)
	assert.NotEqual(t, DispositionReject, r.Disposition)
	assert.Contains(t, r.Warnings, "ring is not closed")
}

func TestValidate_MissingGeometryWhenPolygonsRequiredIsHardIssue(t *testing.T) {
	payload := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"district":"1"}}]}`
	r := Validate([]byte(payload), DefaultOptions)
	assert.Equal(t, DispositionReject, r.Disposition)
}

package model

import "time"

// QualitySnapshot is the compact quality summary carried in a discovery
// entry: valid/topology flags, response latency, and the data's as-of date.
type QualitySnapshot struct {
	Valid      bool      `json:"v"`
	Topology   bool      `json:"t"`
	ResponseMs int       `json:"r"`
	DataDate   time.Time `json:"d"`
}

// DiscoveryEntry is one acquisition attempt's full record, as appended to
// the provenance log. Field names mirror the on-disk compact encoding (§6):
// f=FIPS, n=cityName, s=state, p=population, g=tier, fc=featureCount,
// conf=confidence, auth=authorityLevel, src=sourceLabel, url=url,
// q=quality, why=whyStrings, tried=triedTiers, blocked=blockedReason,
// ts=timestamp, aid=agentId.
type DiscoveryEntry struct {
	FIPS           string          `json:"f"`
	CityName       string          `json:"n"`
	State          string          `json:"s"`
	Population     int64           `json:"p"`
	Tier           int             `json:"g"`
	FeatureCount   int             `json:"fc"`
	Confidence     int             `json:"conf"`
	AuthorityLevel AuthorityLevel  `json:"auth"`
	SourceLabel    string          `json:"src"`
	URL            string          `json:"url"`
	Quality        QualitySnapshot `json:"q"`
	WhyStrings     []string        `json:"why"`
	TriedTiers     []string        `json:"tried"`
	BlockedReason  *string         `json:"blocked,omitempty"`
	Timestamp      time.Time       `json:"ts"`
	AgentID        string          `json:"aid"`
}

// Package fraud derives plausibility classifications for persisted
// submissions. Flags are computed fresh on every read and never stored, so
// they cannot drift from the underlying record.
package fraud

import (
	"strconv"
	"time"

	"github.com/sitepatrol/backend/internal/models"
)

// Flag classifies one submission's metadata plausibility.
type Flag string

const (
	FlagOK                Flag = "OK"
	FlagGPSInvalid        Flag = "GPS_INVALID"
	FlagTimestampMismatch Flag = "TIMESTAMP_MISMATCH"
	FlagNoGPS             Flag = "NO_GPS"
	FlagOtherSuspicious   Flag = "OTHER_SUSPICIOUS"
)

// DefaultTimestampSkew is the default tolerated gap between photo capture and
// upload before a submission is flagged.
const DefaultTimestampSkew = 5 * time.Minute

// DefaultInvalidRateAlert is the default aggregate alert ratio: when more
// than this share of entries carries invalid GPS, the reporting period is
// alerted as a whole.
const DefaultInvalidRateAlert = 0.15

// Policy holds the configurable classification thresholds. The timestamp
// comparison basis is capture time vs upload time (CreatedAt).
type Policy struct {
	TimestampSkew    time.Duration
	InvalidRateAlert float64
}

// DefaultPolicy returns the reference thresholds.
func DefaultPolicy() Policy {
	return Policy{
		TimestampSkew:    DefaultTimestampSkew,
		InvalidRateAlert: DefaultInvalidRateAlert,
	}
}

// Engine is the single place flags are computed; every surface that displays
// a flag calls it.
type Engine struct {
	policy Policy
}

// NewEngine creates an Engine with the given policy. Zero policy fields fall
// back to the defaults.
func NewEngine(policy Policy) *Engine {
	if policy.TimestampSkew <= 0 {
		policy.TimestampSkew = DefaultTimestampSkew
	}
	if policy.InvalidRateAlert <= 0 {
		policy.InvalidRateAlert = DefaultInvalidRateAlert
	}
	return &Engine{policy: policy}
}

// Classify derives the flag for one entry. Decision order, first match wins:
// missing coordinates, failed proximity evaluation, capture/upload skew, OK.
func (e *Engine) Classify(entry *models.ChecklistEntry) Flag {
	if !entry.HasGPS() {
		return FlagNoGPS
	}
	if entry.IsGpsValid != nil && !*entry.IsGpsValid {
		return FlagGPSInvalid
	}
	if entry.PhotoTimestamp != nil {
		gap := time.Duration(entry.CreatedAt-*entry.PhotoTimestamp) * time.Second
		if gap < 0 {
			gap = -gap
		}
		if gap > e.policy.TimestampSkew {
			return FlagTimestampMismatch
		}
	}
	return FlagOK
}

// Flagged pairs an entry with its derived flag.
type Flagged struct {
	Entry *models.ChecklistEntry `json:"entry"`
	Flag  Flag                   `json:"flag"`
	// MapURL lets a reviewer verify the capture point manually.
	MapURL string `json:"map_url,omitempty"`
}

// Report classifies entries in order and keeps only the suspicious ones.
func (e *Engine) Report(entries []*models.ChecklistEntry) []Flagged {
	var flagged []Flagged
	for _, entry := range entries {
		flag := e.Classify(entry)
		if flag == FlagOK {
			continue
		}
		item := Flagged{Entry: entry, Flag: flag}
		if coord, ok := entry.Coordinate(); ok {
			item.MapURL = MapLink(coord.Latitude, coord.Longitude)
		}
		flagged = append(flagged, item)
	}
	return flagged
}

// Aggregate is a pure reduction over a set of entries. The four GPS buckets
// (ValidGPS, InvalidGPS, NoGPS, unevaluated WithGPS) partition the set.
type Aggregate struct {
	Total      int     `json:"total"`
	WithGPS    int     `json:"with_gps"`
	ValidGPS   int     `json:"valid_gps"`
	InvalidGPS int     `json:"invalid_gps"`
	NoGPS      int     `json:"no_gps"`
	AvgScore   float64 `json:"avg_score"`
}

// Aggregate reduces the entries to summary statistics. An empty set yields
// all zeros.
func (e *Engine) Aggregate(entries []*models.ChecklistEntry) Aggregate {
	agg := Aggregate{Total: len(entries)}
	if len(entries) == 0 {
		return agg
	}

	scoreSum := 0
	for _, entry := range entries {
		scoreSum += entry.Score
		if !entry.HasGPS() {
			agg.NoGPS++
			continue
		}
		agg.WithGPS++
		if entry.IsGpsValid == nil {
			continue
		}
		if *entry.IsGpsValid {
			agg.ValidGPS++
		} else {
			agg.InvalidGPS++
		}
	}
	agg.AvgScore = float64(scoreSum) / float64(len(entries))
	return agg
}

// Alert reports the system-level alert condition: the share of invalid-GPS
// entries in the period exceeds the policy ratio. This is a threshold on the
// aggregate, independent of per-entry classification.
func (e *Engine) Alert(agg Aggregate) bool {
	if agg.Total == 0 {
		return false
	}
	return float64(agg.InvalidGPS)/float64(agg.Total) > e.policy.InvalidRateAlert
}

// MapLink builds the manual-verification URL. The query format is a drop-in
// compatibility contract with existing reviewer tooling.
func MapLink(lat, lon float64) string {
	return "https://www.google.com/maps?q=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(lon, 'f', -1, 64)
}

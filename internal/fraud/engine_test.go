// Package fraud tests for flag classification and aggregation.
package fraud

import (
	"math"
	"testing"
	"time"

	"github.com/sitepatrol/backend/internal/models"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func boolp(v bool) *bool     { return &v }

// entryWith builds an entry uploaded now with the given capture offset.
func entryWith(lat, lon *float64, gpsValid *bool, captureOffset time.Duration) *models.ChecklistEntry {
	now := time.Now().Unix()
	entry := &models.ChecklistEntry{
		Location:   "Toilet Lobby",
		Day:        5,
		Month:      10,
		Year:       2025,
		Score:      90,
		CreatedAt:  now,
		Latitude:   lat,
		Longitude:  lon,
		IsGpsValid: gpsValid,
	}
	if lat != nil {
		capture := now - int64(captureOffset.Seconds())
		entry.PhotoTimestamp = &capture
	}
	return entry
}

func TestClassifyNoGPS(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	entry := entryWith(nil, nil, nil, 0)
	if flag := engine.Classify(entry); flag != FlagNoGPS {
		t.Errorf("Classify(no coordinates) = %v, want %v", flag, FlagNoGPS)
	}

	// A single missing coordinate is still NO_GPS.
	entry = entryWith(f64(-6.2088), nil, nil, 0)
	if flag := engine.Classify(entry); flag != FlagNoGPS {
		t.Errorf("Classify(half coordinates) = %v, want %v", flag, FlagNoGPS)
	}
}

func TestClassifyGPSInvalid(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	entry := entryWith(f64(-6.2088), f64(106.8456), boolp(false), 0)
	if flag := engine.Classify(entry); flag != FlagGPSInvalid {
		t.Errorf("Classify(isGpsValid=false) = %v, want %v", flag, FlagGPSInvalid)
	}
}

func TestClassifyTimestampMismatch(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	entry := entryWith(f64(-6.2088), f64(106.8456), boolp(true), 6*time.Minute)
	if flag := engine.Classify(entry); flag != FlagTimestampMismatch {
		t.Errorf("Classify(6 minute gap) = %v, want %v", flag, FlagTimestampMismatch)
	}

	entry = entryWith(f64(-6.2088), f64(106.8456), boolp(true), 4*time.Minute)
	if flag := engine.Classify(entry); flag != FlagOK {
		t.Errorf("Classify(4 minute gap) = %v, want %v", flag, FlagOK)
	}
}

func TestClassifySkewIsConfigurable(t *testing.T) {
	engine := NewEngine(Policy{TimestampSkew: time.Minute})
	entry := entryWith(f64(-6.2088), f64(106.8456), boolp(true), 2*time.Minute)
	if flag := engine.Classify(entry); flag != FlagTimestampMismatch {
		t.Errorf("Classify(2 minute gap, 1 minute policy) = %v, want %v", flag, FlagTimestampMismatch)
	}
}

func TestClassifyDecisionOrder(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	// GPS_INVALID wins over a simultaneous timestamp mismatch.
	entry := entryWith(f64(-6.2088), f64(106.8456), boolp(false), time.Hour)
	if flag := engine.Classify(entry); flag != FlagGPSInvalid {
		t.Errorf("Classify() = %v, want %v (first match wins)", flag, FlagGPSInvalid)
	}
}

func TestClassifyUnevaluatedProximityIsNotInvalid(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	entry := entryWith(f64(-6.2088), f64(106.8456), nil, time.Minute)
	if flag := engine.Classify(entry); flag != FlagOK {
		t.Errorf("Classify(isGpsValid=nil) = %v, want %v (nil means not evaluated)", flag, FlagOK)
	}
}

func TestClassifyMissingPhotoTimestamp(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	entry := entryWith(f64(-6.2088), f64(106.8456), boolp(true), 0)
	entry.PhotoTimestamp = nil
	if flag := engine.Classify(entry); flag != FlagOK {
		t.Errorf("Classify(no capture timestamp) = %v, want %v", flag, FlagOK)
	}
}

func TestReportFiltersAndOrders(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	entries := []*models.ChecklistEntry{
		entryWith(f64(1), f64(1), boolp(true), 0),          // OK
		entryWith(nil, nil, nil, 0),                        // NO_GPS
		entryWith(f64(2), f64(2), boolp(false), 0),         // GPS_INVALID
		entryWith(f64(3), f64(3), boolp(true), time.Hour),  // TIMESTAMP_MISMATCH
	}

	report := engine.Report(entries)
	if len(report) != 3 {
		t.Fatalf("Report() returned %d items, want 3 (OK filtered out)", len(report))
	}
	want := []Flag{FlagNoGPS, FlagGPSInvalid, FlagTimestampMismatch}
	for i, item := range report {
		if item.Flag != want[i] {
			t.Errorf("report[%d].Flag = %v, want %v (input order preserved)", i, item.Flag, want[i])
		}
	}
	if report[0].MapURL != "" {
		t.Error("NO_GPS entry should carry no map link")
	}
	if report[1].MapURL != "https://www.google.com/maps?q=2,2" {
		t.Errorf("map link = %q", report[1].MapURL)
	}
}

func TestAggregateEmptySet(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	agg := engine.Aggregate(nil)
	if agg != (Aggregate{}) {
		t.Errorf("Aggregate(empty) = %+v, want all zeros", agg)
	}
}

func TestAggregateBuckets(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	valid := entryWith(f64(1), f64(1), boolp(true), 0)
	valid.Score = 80
	invalid := entryWith(f64(2), f64(2), boolp(false), 0)
	invalid.Score = 60
	unevaluated := entryWith(f64(3), f64(3), nil, 0)
	unevaluated.Score = 100
	noGPS := entryWith(nil, nil, nil, 0)
	noGPS.Score = 40

	agg := engine.Aggregate([]*models.ChecklistEntry{valid, invalid, unevaluated, noGPS})

	if agg.Total != 4 {
		t.Errorf("Total = %d, want 4", agg.Total)
	}
	if agg.WithGPS != 3 {
		t.Errorf("WithGPS = %d, want 3", agg.WithGPS)
	}
	if agg.ValidGPS != 1 || agg.InvalidGPS != 1 || agg.NoGPS != 1 {
		t.Errorf("buckets = valid:%d invalid:%d none:%d, want 1/1/1",
			agg.ValidGPS, agg.InvalidGPS, agg.NoGPS)
	}
	if math.Abs(agg.AvgScore-70.0) > 1e-9 {
		t.Errorf("AvgScore = %f, want 70", agg.AvgScore)
	}
}

func TestAlertThreshold(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	if engine.Alert(Aggregate{}) {
		t.Error("empty aggregate must not alert")
	}
	// 1 of 10 invalid: 10% <= 15%, no alert.
	if engine.Alert(Aggregate{Total: 10, InvalidGPS: 1}) {
		t.Error("10%% invalid should not alert at a 15%% threshold")
	}
	// 2 of 10 invalid: 20% > 15%, alert.
	if !engine.Alert(Aggregate{Total: 10, InvalidGPS: 2}) {
		t.Error("20%% invalid should alert at a 15%% threshold")
	}
	// Exactly at the threshold does not alert (strictly greater).
	if engine.Alert(Aggregate{Total: 20, InvalidGPS: 3}) {
		t.Error("exactly 15%% invalid should not alert")
	}
}

func TestMapLinkFormat(t *testing.T) {
	got := MapLink(-6.2088, 106.8456)
	if want := "https://www.google.com/maps?q=-6.2088,106.8456"; got != want {
		t.Errorf("MapLink = %q, want %q", got, want)
	}
}

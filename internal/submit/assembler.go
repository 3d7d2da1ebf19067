// Package submit assembles photo, coordinates, address, and timestamps into
// one persisted checklist entry.
package submit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/sitepatrol/backend/internal/errors"
	"github.com/sitepatrol/backend/internal/feed"
	"github.com/sitepatrol/backend/internal/geo"
	"github.com/sitepatrol/backend/internal/geocode"
	"github.com/sitepatrol/backend/internal/logging"
	"github.com/sitepatrol/backend/internal/models"
	"github.com/sitepatrol/backend/internal/storage"
	"github.com/sitepatrol/backend/internal/watermark"
)

// EntryStore is the persistence surface the assembler needs.
type EntryStore interface {
	UpsertEntry(entry *models.ChecklistEntry) error
	UpdateEntryAddress(id, address string) error
	GetEntryBySlot(location string, day, month, year int) (*models.ChecklistEntry, error)
	GetLocationRef(location string) (*models.LocationRef, error)
}

// Publisher receives row-change events. Optional; a nil publisher disables
// change notifications without affecting the pipeline.
type Publisher interface {
	Publish(eventType feed.EventType, entry *models.ChecklistEntry)
}

// Request carries one submission.
type Request struct {
	Photo    []byte
	Location string
	Day      int
	Month    int
	Year     int
	Score    int
	// Coords is nil when acquisition reported unavailable; the submission
	// proceeds without GPS.
	Coords *models.Coordinate
	// PhotoTimestamp is the client's capture time (Unix seconds).
	PhotoTimestamp *int64
	// Device is audit-only; nothing validates against it.
	Device *models.DeviceAudit
}

// Options configures an Assembler.
type Options struct {
	// ProximityToleranceMeters bounds the actual-vs-expected distance check.
	ProximityToleranceMeters float64
	// GeocodeTimeout bounds the asynchronous address resolution.
	GeocodeTimeout time.Duration
	// PhotoFolder is the storage folder hint.
	PhotoFolder string
}

// Assembler runs the submission pipeline: watermark, store, geocode, upsert.
type Assembler struct {
	store      EntryStore
	photos     storage.PhotoStore
	geocoder   geocode.Resolver
	compositor *watermark.Compositor
	publisher  Publisher
	opts       Options
	clock      func() time.Time

	// pending tracks in-flight address updates for graceful shutdown.
	pending sync.WaitGroup
}

// NewAssembler creates an Assembler. publisher may be nil.
func NewAssembler(store EntryStore, photos storage.PhotoStore, geocoder geocode.Resolver, publisher Publisher, opts Options) *Assembler {
	if opts.ProximityToleranceMeters <= 0 {
		opts.ProximityToleranceMeters = geo.DefaultProximityToleranceMeters
	}
	if opts.GeocodeTimeout <= 0 {
		opts.GeocodeTimeout = 10 * time.Second
	}
	if opts.PhotoFolder == "" {
		opts.PhotoFolder = "checklist-photos"
	}
	return &Assembler{
		store:      store,
		photos:     photos,
		geocoder:   geocoder,
		compositor: watermark.NewCompositor(),
		publisher:  publisher,
		opts:       opts,
		clock:      time.Now,
	}
}

// Submit runs the pipeline for one submission. The persisted write is a
// single atomic upsert keyed on the (location, day, month, year) slot; a
// failure at any stage leaves no partial artifact behind.
func (a *Assembler) Submit(ctx context.Context, actor string, req Request) (*models.ChecklistEntry, error) {
	if actor == "" {
		return nil, apperrors.New(apperrors.ErrUnauthenticated, "submission requires an authenticated actor")
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	captureTime := a.clock()
	if req.PhotoTimestamp != nil {
		captureTime = time.Unix(*req.PhotoTimestamp, 0)
	}

	// Address resolution runs concurrently and never blocks persistence:
	// the record carries a placeholder until the lookup settles.
	var addressCh chan models.GeoAddress
	if req.Coords != nil {
		addressCh = make(chan models.GeoAddress, 1)
		coord := *req.Coords
		go func() {
			lookupCtx, cancel := context.WithTimeout(context.Background(), a.opts.GeocodeTimeout)
			defer cancel()
			addressCh <- a.geocoder.Resolve(lookupCtx, coord)
		}()
	}

	watermarked, err := a.compositor.Compose(req.Photo, watermark.Spec{
		Location:  req.Location,
		Timestamp: captureTime,
		Coords:    req.Coords,
	})
	if err != nil {
		// Fatal: an unwatermarked photo must never reach the store.
		return nil, err
	}

	photoURL, err := a.photos.Store(watermarked, a.opts.PhotoFolder)
	if err != nil {
		return nil, err
	}

	entry := &models.ChecklistEntry{
		Location:       req.Location,
		Day:            req.Day,
		Month:          req.Month,
		Year:           req.Year,
		Score:          req.Score,
		PhotoURL:       photoURL,
		UploadedBy:     actor,
		PhotoTimestamp: req.PhotoTimestamp,
	}

	if req.Coords != nil {
		lat, lon := req.Coords.Latitude, req.Coords.Longitude
		entry.Latitude = &lat
		entry.Longitude = &lon
		entry.IsGpsValid = a.evaluateProximity(req.Location, *req.Coords)

		placeholder := geocode.PlaceholderAddress
		select {
		case addr := <-addressCh:
			entry.GPSAddress = &addr.Formatted
			addressCh = nil
		default:
			entry.GPSAddress = &placeholder
		}
	}

	if req.Device != nil {
		req.Device.SchemaVersion = models.DeviceAuditVersion
		if blob, err := json.Marshal(req.Device); err == nil {
			s := string(blob)
			entry.DeviceInfo = &s
		}
	}

	// An abandoned submission must leave nothing behind.
	if err := ctx.Err(); err != nil {
		a.removePhoto(photoURL)
		return nil, apperrors.Wrap(apperrors.ErrInternal, "submission cancelled", err)
	}

	existing, err := a.store.GetEntryBySlot(req.Location, req.Day, req.Month, req.Year)
	if err != nil && err != sql.ErrNoRows {
		a.removePhoto(photoURL)
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to check submission slot", err)
	}

	if err := a.store.UpsertEntry(entry); err != nil {
		a.removePhoto(photoURL)
		return nil, apperrors.Wrap(apperrors.ErrPersistenceConflict, "failed to persist submission", err)
	}

	logging.Info("submission persisted", map[string]interface{}{
		"entry_id": entry.ID.String(),
		"location": entry.Location,
		"slot":     slotKey(entry),
		"has_gps":  entry.HasGPS(),
	})

	if a.publisher != nil {
		if existing != nil {
			a.publisher.Publish(feed.EventUpdated, entry)
		} else {
			a.publisher.Publish(feed.EventInserted, entry)
		}
	}

	if addressCh != nil {
		a.pending.Add(1)
		entryID := entry.ID.String()
		go func() {
			defer a.pending.Done()
			addr := <-addressCh
			if err := a.store.UpdateEntryAddress(entryID, addr.Formatted); err != nil {
				logging.Error("failed to update resolved address", err, map[string]interface{}{
					"entry_id": entryID,
				})
			}
		}()
	}

	return entry, nil
}

// WaitAddress blocks until all in-flight address updates complete. Used by
// tests and by graceful shutdown.
func (a *Assembler) WaitAddress() {
	a.pending.Wait()
}

// evaluateProximity returns the tri-state GPS verdict: nil when no expected
// coordinate is configured for the location, a real verdict otherwise.
func (a *Assembler) evaluateProximity(location string, actual models.Coordinate) *bool {
	ref, err := a.store.GetLocationRef(location)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		logging.Error("failed to read location ref", err, map[string]interface{}{
			"location": location,
		})
		return nil
	}
	result := geo.ValidateProximity(actual, ref.Coordinate(), a.opts.ProximityToleranceMeters)
	return &result.Valid
}

func (a *Assembler) removePhoto(url string) {
	if err := a.photos.Remove(url); err != nil {
		logging.Warn("failed to roll back stored photo", map[string]interface{}{
			"url":    url,
			"reason": err.Error(),
		})
	}
}

func validate(req Request) error {
	if len(req.Photo) == 0 {
		return apperrors.New(apperrors.ErrInvalid, "photo is required")
	}
	if req.Location == "" {
		return apperrors.New(apperrors.ErrInvalid, "location is required")
	}
	if req.Month < 1 || req.Month > 12 {
		return apperrors.New(apperrors.ErrInvalid, "month must be 1-12")
	}
	if req.Year < 1 {
		return apperrors.New(apperrors.ErrInvalid, "year is required")
	}
	if req.Day < 1 || req.Day > daysIn(req.Month, req.Year) {
		return apperrors.New(apperrors.ErrInvalid, "day is out of range for the month")
	}
	if req.Score < 0 || req.Score > 100 {
		return apperrors.New(apperrors.ErrInvalid, "score must be 0-100")
	}
	if req.Coords != nil && !req.Coords.Valid() {
		return apperrors.New(apperrors.ErrInvalid, "coordinates out of range")
	}
	return nil
}

func daysIn(month, year int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func slotKey(e *models.ChecklistEntry) string {
	return time.Date(e.Year, time.Month(e.Month), e.Day, 0, 0, 0, 0, time.UTC).Format("2006-01-02") + "/" + e.Location
}

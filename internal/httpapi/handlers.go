package httpapi

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sitepatrol/backend/internal/errors"
	"github.com/sitepatrol/backend/internal/feed"
	"github.com/sitepatrol/backend/internal/fraud"
	"github.com/sitepatrol/backend/internal/logging"
	"github.com/sitepatrol/backend/internal/models"
	"github.com/sitepatrol/backend/internal/submit"
)

// maxPhotoBytes bounds the multipart upload size.
const maxPhotoBytes = 20 << 20

// entryView decorates a persisted entry with its freshly derived fraud flag.
// Flags are never stored, so every read surface computes them here.
type entryView struct {
	*models.ChecklistEntry
	FraudFlag fraud.Flag `json:"fraud_flag"`
	MapURL    string     `json:"map_url,omitempty"`
}

func (s *Server) view(entry *models.ChecklistEntry) entryView {
	v := entryView{ChecklistEntry: entry, FraudFlag: s.engine.Classify(entry)}
	if coord, ok := entry.Coordinate(); ok {
		v.MapURL = fraud.MapLink(coord.Latitude, coord.Longitude)
	}
	return v
}

func (s *Server) views(entries []*models.ChecklistEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, s.view(entry))
	}
	return out
}

// handleSubmit accepts a multipart submission: the photo file plus the slot,
// score, and optional GPS and device fields.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, apperrors.New(apperrors.ErrUnauthenticated, "missing identity"))
		return
	}
	if !s.limiter.Allow(identity.Actor) {
		writeError(w, apperrors.New(apperrors.ErrRateLimit, "submission rate limit exceeded"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid multipart form", err))
		return
	}

	req, err := parseSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}

	existing, slotErr := s.repo.GetEntryBySlot(req.Location, req.Day, req.Month, req.Year)
	if slotErr != nil && slotErr != sql.ErrNoRows {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to check slot", slotErr))
		return
	}

	entry, err := s.assembler.Submit(r.Context(), identity.Actor, req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if existing != nil {
		status = http.StatusOK
	}
	writeJSON(w, status, s.view(entry))
}

func parseSubmission(r *http.Request) (submit.Request, error) {
	var req submit.Request

	file, _, err := r.FormFile("photo")
	if err != nil {
		return req, apperrors.Wrap(apperrors.ErrInvalid, "photo file is required", err)
	}
	defer file.Close()
	photo, err := io.ReadAll(file)
	if err != nil {
		return req, apperrors.Wrap(apperrors.ErrInvalid, "failed to read photo", err)
	}

	req.Photo = photo
	req.Location = r.FormValue("location")

	for _, field := range []struct {
		name string
		dst  *int
	}{
		{"day", &req.Day},
		{"month", &req.Month},
		{"year", &req.Year},
		{"score", &req.Score},
	} {
		value, err := strconv.Atoi(r.FormValue(field.name))
		if err != nil {
			return req, apperrors.New(apperrors.ErrInvalid, field.name+" must be an integer")
		}
		*field.dst = value
	}

	latStr, lonStr := r.FormValue("latitude"), r.FormValue("longitude")
	if (latStr == "") != (lonStr == "") {
		return req, apperrors.New(apperrors.ErrInvalid, "latitude and longitude must be provided together")
	}
	if latStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lon, lonErr := strconv.ParseFloat(lonStr, 64)
		if latErr != nil || lonErr != nil {
			return req, apperrors.New(apperrors.ErrInvalid, "coordinates must be numeric")
		}
		req.Coords = &models.Coordinate{Latitude: lat, Longitude: lon}
	}

	if ts := r.FormValue("photo_timestamp"); ts != "" {
		parsed, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return req, apperrors.New(apperrors.ErrInvalid, "photo_timestamp must be unix seconds")
		}
		req.PhotoTimestamp = &parsed
	}

	if device := r.FormValue("device_info"); device != "" {
		var audit models.DeviceAudit
		if err := json.Unmarshal([]byte(device), &audit); err != nil {
			return req, apperrors.New(apperrors.ErrInvalid, "device_info must be a JSON object")
		}
		req.Device = &audit
	}

	return req, nil
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	month, year, err := monthYear(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.repo.ListByMonth(month, year)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to list entries", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": s.views(entries),
		"month":   month,
		"year":    year,
	})
}

func (s *Server) handleListWithGPS(w http.ResponseWriter, r *http.Request) {
	month, year, err := monthYear(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.repo.ListWithGPS(month, year)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to list GPS entries", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": s.views(entries),
		"month":   month,
		"year":    year,
	})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.repo.GetEntry(chi.URLParam(r, "id"))
	if err == sql.ErrNoRows {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "entry not found"))
		return
	}
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to load entry", err))
		return
	}
	writeJSON(w, http.StatusOK, s.view(entry))
}

// handleApprove records a supervisor approval. Approval is cleared whenever
// the slot is resubmitted, so a stale approval cannot cover a new photo.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if !identity.IsSupervisor() {
		writeError(w, apperrors.New(apperrors.ErrPermission, "approval requires the supervisor role"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.repo.ApproveEntry(id, identity.Actor, time.Now()); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, apperrors.New(apperrors.ErrNotFound, "entry not found"))
			return
		}
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to approve entry", err))
		return
	}

	entry, err := s.repo.GetEntry(id)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to reload entry", err))
		return
	}

	logging.Info("entry approved", map[string]interface{}{
		"entry_id": id,
		"approver": identity.Actor,
	})
	s.feed.Publish(feed.EventUpdated, entry)
	writeJSON(w, http.StatusOK, s.view(entry))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if !identity.IsSupervisor() {
		writeError(w, apperrors.New(apperrors.ErrPermission, "deletion requires the supervisor role"))
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.repo.GetEntry(id)
	if err == sql.ErrNoRows {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "entry not found"))
		return
	}
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to load entry", err))
		return
	}

	if err := s.repo.DeleteEntry(id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete entry", err))
		return
	}
	if err := s.photos.Remove(entry.PhotoURL); err != nil {
		logging.Warn("failed to remove photo of deleted entry", map[string]interface{}{
			"entry_id": id,
			"url":      entry.PhotoURL,
		})
	}

	s.feed.PublishDeleted(id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleFraudReport returns the recent entries that carry a suspicious flag.
func (s *Server) handleFraudReport(w http.ResponseWriter, r *http.Request) {
	limit := DefaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, apperrors.New(apperrors.ErrInvalid, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := s.repo.RecentEntries(limit)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to load recent entries", err))
		return
	}

	flagged := s.engine.Report(entries)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flagged":  flagged,
		"scanned":  len(entries),
		"suspects": len(flagged),
	})
}

// handleSummary returns the month's aggregate statistics and the system-level
// invalid-GPS alert.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	month, year, err := monthYear(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.repo.ListByMonth(month, year)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to list entries", err))
		return
	}

	agg := s.engine.Aggregate(entries)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": agg,
		"alert":   s.engine.Alert(agg),
		"month":   month,
		"year":    year,
	})
}

func (s *Server) handleSetLocationRef(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if !identity.IsSupervisor() {
		writeError(w, apperrors.New(apperrors.ErrPermission, "location references require the supervisor role"))
		return
	}

	location := chi.URLParam(r, "location")
	if location == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "location is required"))
		return
	}

	var body models.Coordinate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if !body.Valid() {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "coordinates out of range"))
		return
	}

	ref := &models.LocationRef{
		Location:  location,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	}
	if err := s.repo.UpsertLocationRef(ref); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to store location reference", err))
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleListLocationRefs(w http.ResponseWriter, _ *http.Request) {
	refs, err := s.repo.ListLocationRefs()
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to list location references", err))
		return
	}
	if refs == nil {
		refs = []*models.LocationRef{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"refs": refs})
}

// monthYear reads the month/year query parameters, defaulting to the current
// month.
func monthYear(r *http.Request) (int, int, error) {
	now := time.Now()
	month, year := int(now.Month()), now.Year()

	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 12 {
			return 0, 0, apperrors.New(apperrors.ErrInvalid, "month must be 1-12")
		}
		month = parsed
	}
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, apperrors.New(apperrors.ErrInvalid, "year must be a positive integer")
		}
		year = parsed
	}
	return month, year, nil
}

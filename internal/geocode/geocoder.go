// Package geocode resolves coordinates to human-readable addresses with
// graceful degradation: Resolve never fails outward.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sitepatrol/backend/internal/logging"
	"github.com/sitepatrol/backend/internal/models"
)

// PlaceholderAddress is persisted while a lookup is still in flight. It is
// always replaced: by the resolved address, or by the coordinate fallback.
const PlaceholderAddress = "Loading address..."

// DefaultBaseURL is the public Nominatim reverse endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// DefaultUserAgent identifies this service to the lookup provider, which
// public reverse-geocoding services require of their callers.
const DefaultUserAgent = "sitepatrol-backend/1.0 (inspection photo verification)"

// Resolver resolves a coordinate to an address.
type Resolver interface {
	Resolve(ctx context.Context, coord models.Coordinate) models.GeoAddress
}

// Client is a Nominatim-style reverse geocoding client.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a reverse geocoding client. Empty arguments fall back to
// the public Nominatim endpoint and the default client identifier.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// nominatimResponse mirrors the lookup payload. Address sub-fields may be
// partially absent; absent parts are skipped during composition.
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road    string `json:"road"`
		Suburb  string `json:"suburb"`
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Resolve issues a single reverse lookup. On non-success response, network
// error, or malformed payload it returns the deterministic coordinate
// fallback so the caller can always present some address string.
func (c *Client) Resolve(ctx context.Context, coord models.Coordinate) models.GeoAddress {
	endpoint := fmt.Sprintf("%s/reverse?%s", c.baseURL, url.Values{
		"format":         {"json"},
		"lat":            {strconv.FormatFloat(coord.Latitude, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(coord.Longitude, 'f', -1, 64)},
		"zoom":           {"18"},
		"addressdetails": {"1"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Fallback(coord)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Warn("reverse geocode request failed", map[string]interface{}{
			"latitude":  coord.Latitude,
			"longitude": coord.Longitude,
			"reason":    err.Error(),
		})
		return Fallback(coord)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Warn("reverse geocode non-success status", map[string]interface{}{
			"status": resp.StatusCode,
		})
		return Fallback(coord)
	}

	var payload nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logging.Warn("reverse geocode malformed payload", map[string]interface{}{
			"reason": err.Error(),
		})
		return Fallback(coord)
	}

	return compose(payload, coord)
}

// compose builds a GeoAddress from the lookup payload, preferring
// road/suburb over generic locality and skipping absent components.
func compose(payload nominatimResponse, coord models.Coordinate) models.GeoAddress {
	addr := payload.Address

	street := firstNonEmpty(addr.Road, addr.Suburb)
	city := firstNonEmpty(addr.City, addr.Town, addr.Village)

	var parts []string
	for _, p := range []string{street, city, addr.State, addr.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	formatted := strings.Join(parts, ", ")
	if formatted == "" {
		formatted = firstNonEmpty(payload.DisplayName, CoordinateString(coord))
	}

	result := models.GeoAddress{
		Address:   street,
		City:      city,
		Country:   addr.Country,
		Formatted: formatted,
	}
	if result.Address == "" {
		result.Address = "GPS Location"
	}
	if result.City == "" {
		result.City = "Unknown"
	}
	if result.Country == "" {
		result.Country = "Unknown"
	}
	return result
}

// CoordinateString renders the fixed six-decimal coordinate representation.
func CoordinateString(coord models.Coordinate) string {
	return fmt.Sprintf("%.6f°, %.6f°", coord.Latitude, coord.Longitude)
}

// Fallback is the deterministic degraded address for a coordinate.
func Fallback(coord models.Coordinate) models.GeoAddress {
	return models.GeoAddress{
		Address:   "GPS Location",
		City:      "Unknown",
		Country:   "Unknown",
		Formatted: CoordinateString(coord),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

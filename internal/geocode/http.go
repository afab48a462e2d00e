package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/waymark-app/waymark/internal/model"
)

const (
	defaultMapboxBaseURL     = "https://api.mapbox.com"
	defaultFoursquareBaseURL = "https://api.foursquare.com"
	defaultHTTPTimeout       = 10 * time.Second
)

// HTTPClient talks to Mapbox for reverse geocoding and Foursquare for
// nearby POI search. Both endpoints are plain GET + JSON.
type HTTPClient struct {
	httpClient        *http.Client
	mapboxBaseURL     string
	mapboxToken       string
	foursquareBaseURL string
	foursquareKey     string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithMapboxBaseURL overrides the Mapbox API base URL.
func WithMapboxBaseURL(u string) Option {
	return func(h *HTTPClient) { h.mapboxBaseURL = u }
}

// WithFoursquareBaseURL overrides the Foursquare API base URL.
func WithFoursquareBaseURL(u string) Option {
	return func(h *HTTPClient) { h.foursquareBaseURL = u }
}

// NewHTTPClient creates a provider client. Either credential may be empty
// if the corresponding operation is never used.
func NewHTTPClient(mapboxToken, foursquareKey string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		httpClient:        &http.Client{Timeout: defaultHTTPTimeout},
		mapboxBaseURL:     defaultMapboxBaseURL,
		mapboxToken:       mapboxToken,
		foursquareBaseURL: defaultFoursquareBaseURL,
		foursquareKey:     foursquareKey,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// mapboxResponse is the slice of the geocoding v5 response we care about.
type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	ID        string          `json:"id"`
	PlaceType []string        `json:"place_type"`
	Text      string          `json:"text"`
	Context   []mapboxContext `json:"context"`
}

type mapboxContext struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ReverseGeocode implements Client using the Mapbox geocoding v5 endpoint.
// An empty feature list is not an error; the returned hierarchy is empty.
func (h *HTTPClient) ReverseGeocode(ctx context.Context, p Point) (model.Hierarchy, error) {
	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%f,%f.json?access_token=%s",
		h.mapboxBaseURL, p.Lng, p.Lat, url.QueryEscape(h.mapboxToken))

	var resp mapboxResponse
	if err := h.getJSON(ctx, endpoint, nil, &resp); err != nil {
		return model.Hierarchy{}, fmt.Errorf("reverse geocode failed: %w", err)
	}

	var hier model.Hierarchy
	for _, f := range resp.Features {
		applyMapboxComponent(&hier, f.ID, f.Text)
		for _, c := range f.Context {
			applyMapboxComponent(&hier, c.ID, c.Text)
		}
	}
	return hier, nil
}

// applyMapboxComponent maps a mapbox component id prefix onto a hierarchy
// field, first writer wins.
func applyMapboxComponent(h *model.Hierarchy, id, text string) {
	if text == "" {
		return
	}
	set := func(dst **string) {
		if *dst == nil {
			*dst = model.StrPtr(text)
		}
	}
	switch {
	case strings.HasPrefix(id, "address"):
		set(&h.Address)
	case strings.HasPrefix(id, "neighborhood"):
		set(&h.Neighborhood)
	case strings.HasPrefix(id, "postcode"):
		set(&h.PostalCode)
	case strings.HasPrefix(id, "place"):
		set(&h.City)
	case strings.HasPrefix(id, "district"):
		set(&h.Subdivision)
	case strings.HasPrefix(id, "region"):
		set(&h.Region)
	case strings.HasPrefix(id, "country"):
		set(&h.Country)
	}
}

// foursquareResponse is the slice of the places search response we use.
type foursquareResponse struct {
	Results []foursquareResult `json:"results"`
}

type foursquareResult struct {
	FsqID    string  `json:"fsq_id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
	Geocodes struct {
		Main struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"main"`
	} `json:"geocodes"`
	Location struct {
		FormattedAddress string `json:"formatted_address"`
		Locality         string `json:"locality"`
	} `json:"location"`
}

// SearchNearby implements Client using the Foursquare places search endpoint.
func (h *HTTPClient) SearchNearby(ctx context.Context, p Point, radiusMeters float64) ([]POI, error) {
	endpoint := fmt.Sprintf("%s/v3/places/search?ll=%f,%f&radius=%d&sort=DISTANCE",
		h.foursquareBaseURL, p.Lat, p.Lng, int(radiusMeters))

	headers := map[string]string{"Authorization": h.foursquareKey}
	var resp foursquareResponse
	if err := h.getJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, fmt.Errorf("nearby search failed: %w", err)
	}

	pois := make([]POI, 0, len(resp.Results))
	for _, r := range resp.Results {
		poi := POI{
			Name: r.Name,
			Point: Point{
				Lat: r.Geocodes.Main.Latitude,
				Lng: r.Geocodes.Main.Longitude,
			},
			FoursquareFsqID: model.StrPtr(r.FsqID),
			DistanceMeters:  r.Distance,
		}
		if r.Location.FormattedAddress != "" {
			poi.Address = model.StrPtr(r.Location.FormattedAddress)
		}
		if r.Location.Locality != "" {
			poi.City = model.StrPtr(r.Location.Locality)
		}
		pois = append(pois, poi)
	}
	return pois, nil
}

// getJSON performs a GET and decodes the JSON body into out.
func (h *HTTPClient) getJSON(ctx context.Context, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/model"
)

const (
	defaultFeedURL     = "https://data-live.flightradar24.com/zones/fcgi/feed.js"
	defaultBounds      = "90,-90,-180,180"
	defaultUserAgent   = "globe-tracker/1.0"
	defaultHTTPTimeout = 10 * time.Second

	// feedRowLen is the number of columns in one aircraft row.
	feedRowLen = 19
)

// FR24Config controls the live flight feed source.
type FR24Config struct {
	// FeedURL is the feed.js endpoint.
	FeedURL string
	// Bounds is "north,south,west,east" in degrees.
	Bounds string
	// Timeout bounds each fetch, including reading the body.
	Timeout   time.Duration
	UserAgent string
}

// ApplyDefaults fills in zero-valued fields.
func (c *FR24Config) ApplyDefaults() {
	if c.FeedURL == "" {
		c.FeedURL = defaultFeedURL
	}
	if c.Bounds == "" {
		c.Bounds = defaultBounds
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// FR24 fetches the full set of aircraft inside a bounding box from the
// FlightRadar24 live feed.
type FR24 struct {
	cfg    FR24Config
	client *http.Client
	log    logging.Logger
}

// NewFR24 constructs the feed source. A nil logger is replaced by Noop.
func NewFR24(cfg FR24Config, log logging.Logger) *FR24 {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	return &FR24{cfg: cfg, client: newHTTPClient(cfg.Timeout), log: log}
}

func (s *FR24) requestURL() (string, error) {
	u, err := url.Parse(s.cfg.FeedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("bounds", s.cfg.Bounds)
	for _, flag := range []string{"faa", "satellite", "mlat", "flarm", "adsb", "gnd", "air", "estimated"} {
		q.Set(flag, "1")
	}
	q.Set("vehicles", "0")
	q.Set("gliders", "0")
	q.Set("maxage", "14400")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch returns the current snapshot. Rows that cannot be decoded are
// skipped; a bad status or an undecodable body fails the whole fetch.
func (s *FR24) Fetch(ctx context.Context) ([]model.Record, error) {
	reqURL, err := s.requestURL()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: %w: %s", ErrBadStatus, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return DecodeFeed(ctx, body, s.log)
}

// DecodeFeed parses a feed.js body. Every array-valued member is one
// aircraft row; housekeeping members are ignored.
func DecodeFeed(ctx context.Context, body []byte, log logging.Logger) ([]model.Record, error) {
	if log == nil {
		log = logging.Noop()
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode feed: %w: %v", ErrMalformedFeed, err)
	}

	// Stable order keeps logs and "last wins" deterministic.
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]model.Record, 0, len(entries))
	skipped := 0
	for _, id := range ids {
		raw := entries[id]
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}
		var row []any
		if err := json.Unmarshal(raw, &row); err != nil {
			skipped++
			log.Warn(ctx, "skipping undecodable feed row", logging.String("fr24_id", id), logging.Err(err))
			continue
		}
		rec, err := decodeRow(id, row)
		if err != nil {
			skipped++
			log.Warn(ctx, "skipping malformed feed row", logging.String("fr24_id", id), logging.Err(err))
			continue
		}
		records = append(records, rec)
	}

	log.Debug(ctx, "decoded flight feed",
		logging.Int("records", len(records)),
		logging.Int("skipped", skipped),
	)
	return records, nil
}

func decodeRow(id string, row []any) (model.Record, error) {
	if len(row) < feedRowLen {
		return model.Record{}, fmt.Errorf("row has %d columns, want %d", len(row), feedRowLen)
	}

	var firstErr error
	i := 0
	// getstring and getfloat consume one column each and remember the
	// first type mismatch.
	getstring := func() string {
		v := row[i]
		i++
		s, ok := v.(string)
		if !ok && firstErr == nil {
			firstErr = fmt.Errorf("column %d: expected string, got %T", i-1, v)
		}
		return s
	}
	getfloat := func() float64 {
		v := row[i]
		i++
		f, ok := v.(float64)
		if !ok && firstErr == nil {
			firstErr = fmt.Errorf("column %d: expected number, got %T", i-1, v)
		}
		return f
	}

	icao24 := getstring()
	lat := getfloat()
	lon := getfloat()
	heading := getfloat()
	altitude := getfloat()
	speed := getfloat()
	squawk := getstring()
	radar := getstring()
	aircraftCode := getstring()
	registration := getstring()
	timestamp := getfloat()
	origin := getstring()
	destination := getstring()
	flightNumber := getstring()
	onGround := getfloat()
	verticalSpeed := getfloat()
	callsign := getstring()
	_ = getfloat() // glider flag
	airline := getstring()

	if firstErr != nil {
		return model.Record{}, firstErr
	}

	key := strings.TrimSpace(icao24)
	if key == "" {
		key = id
	}

	payload, err := structpb.NewStruct(map[string]any{
		"fr24_id":        id,
		"icao24":         icao24,
		"callsign":       callsign,
		"flight_number":  flightNumber,
		"registration":   registration,
		"aircraft_code":  aircraftCode,
		"radar":          radar,
		"ground_speed":   speed,
		"vertical_speed": verticalSpeed,
		"squawk":         squawk,
		"origin":         origin,
		"destination":    destination,
		"airline":        airline,
	})
	if err != nil {
		return model.Record{}, fmt.Errorf("build payload: %w", err)
	}

	return model.Record{
		Key:             key,
		Kind:            model.KindAircraft,
		Longitude:       lon,
		Latitude:        lat,
		Altitude:        altitude,
		Heading:         heading,
		Callsign:        callsign,
		Squawk:          squawk,
		AirlineICAO:     airline,
		OriginIATA:      origin,
		DestinationIATA: destination,
		OnGround:        onGround != 0,
		Timestamp:       time.Unix(int64(timestamp), 0).UTC(),
		Payload:         payload,
	}, nil
}

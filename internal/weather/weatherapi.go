package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
)

const (
	defaultWeatherAPIURL     = "http://api.weatherapi.com/v1/current.json"
	defaultWeatherAPITimeout = 10 * time.Second
)

// ErrNoLocation is returned when the upstream answers without a location,
// which is how weatherapi.com reports an unknown query.
var ErrNoLocation = errors.New("weather: no location in response")

// WeatherAPIConfig configures the weatherapi.com client.
type WeatherAPIConfig struct {
	URL     string
	Key     string
	Timeout time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *WeatherAPIConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = defaultWeatherAPIURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultWeatherAPITimeout
	}
}

// WeatherAPI fetches current conditions from weatherapi.com.
type WeatherAPI struct {
	cfg    WeatherAPIConfig
	client *http.Client
	log    logging.Logger
}

func NewWeatherAPI(cfg WeatherAPIConfig, log logging.Logger) *WeatherAPI {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	return &WeatherAPI{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// Current implements Fetcher.
func (w *WeatherAPI) Current(ctx context.Context, lat, lon float64) (Station, error) {
	q := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
	return w.Lookup(ctx, q)
}

// Lookup fetches conditions for a free-form query such as a city name.
func (w *WeatherAPI) Lookup(ctx context.Context, query string) (Station, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return Station{}, fmt.Errorf("weather: parse url: %w", err)
	}
	v := u.Query()
	v.Set("key", w.cfg.Key)
	v.Set("q", query)
	v.Set("aqi", "no")
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Station{}, fmt.Errorf("weather: build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Station{}, fmt.Errorf("weather: get %q: %w", query, err)
	}
	defer resp.Body.Close()

	var body struct {
		Location *Location `json:"location"`
		Current  Current   `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Station{}, fmt.Errorf("weather: decode %q: %w", query, err)
	}
	if body.Location == nil {
		return Station{}, fmt.Errorf("%w: %q (status %d)", ErrNoLocation, query, resp.StatusCode)
	}
	return Station{Location: *body.Location, Current: body.Current}, nil
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/model"
)

const (
	defaultAirlinesURL = "https://www.flightradar24.com/_json/airlines.php"
	defaultAirportURL  = "https://api.flightradar24.com/common/v1/airport.json"
	defaultCacheSize   = 512
	defaultCacheTTL    = 6 * time.Hour
)

// LookupRecorder observes directory cache behaviour.
type LookupRecorder interface {
	RecordLookup(kind string, hit bool)
}

// DirectoryConfig controls the FR24 metadata directory.
type DirectoryConfig struct {
	AirlinesURL string
	AirportURL  string
	Timeout     time.Duration
	UserAgent   string
	CacheSize   int
	CacheTTL    time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *DirectoryConfig) ApplyDefaults() {
	if c.AirlinesURL == "" {
		c.AirlinesURL = defaultAirlinesURL
	}
	if c.AirportURL == "" {
		c.AirportURL = defaultAirportURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
}

type airportResult struct {
	airport model.Airport
	ok      bool
}

// FR24Directory resolves airlines and airports against FlightRadar24. The
// airline table is downloaded on first successful use; airports are fetched
// per code. Only answers from the upstream are cached, positive or negative.
// A failed request is returned to the caller and retried next time.
type FR24Directory struct {
	cfg      DirectoryConfig
	client   *http.Client
	log      logging.Logger
	recorder LookupRecorder

	airlinesMu sync.Mutex
	airlines   map[string]model.Airline

	airports *expirable.LRU[string, airportResult]
}

// NewFR24Directory constructs a directory. recorder may be nil.
func NewFR24Directory(cfg DirectoryConfig, log logging.Logger, recorder LookupRecorder) *FR24Directory {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	return &FR24Directory{
		cfg:      cfg,
		client:   newHTTPClient(cfg.Timeout),
		log:      log,
		recorder: recorder,
		airports: expirable.NewLRU[string, airportResult](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (d *FR24Directory) record(kind string, hit bool) {
	if d.recorder != nil {
		d.recorder.RecordLookup(kind, hit)
	}
}

// Airline returns the operator with the given ICAO code, or
// model.ErrUnknownCode when the loaded table has no entry for it.
func (d *FR24Directory) Airline(ctx context.Context, icao string) (model.Airline, error) {
	table, err := d.airlineTable(ctx)
	if err != nil {
		return model.Airline{}, err
	}
	a, ok := table[strings.ToUpper(icao)]
	if !ok {
		return model.Airline{}, fmt.Errorf("airline %q: %w", icao, model.ErrUnknownCode)
	}
	return a, nil
}

func (d *FR24Directory) airlineTable(ctx context.Context) (map[string]model.Airline, error) {
	d.airlinesMu.Lock()
	defer d.airlinesMu.Unlock()
	if d.airlines != nil {
		d.record("airline", true)
		return d.airlines, nil
	}
	d.record("airline", false)
	table, err := d.loadAirlines(ctx)
	if err != nil {
		return nil, err
	}
	d.airlines = table
	return table, nil
}

type airlinesDoc struct {
	Rows []struct {
		Name string `json:"Name"`
		Code string `json:"Code"`
		ICAO string `json:"ICAO"`
	} `json:"rows"`
}

func (d *FR24Directory) loadAirlines(ctx context.Context) (map[string]model.Airline, error) {
	var doc airlinesDoc
	if err := d.getJSON(ctx, d.cfg.AirlinesURL, &doc); err != nil {
		d.log.Warn(ctx, "airline table unavailable", logging.Err(err))
		return nil, err
	}
	out := make(map[string]model.Airline, len(doc.Rows))
	for _, r := range doc.Rows {
		if r.ICAO == "" {
			continue
		}
		out[strings.ToUpper(r.ICAO)] = model.Airline{ICAO: r.ICAO, IATA: r.Code, Name: r.Name, Found: true}
	}
	d.log.Info(ctx, "airline table loaded", logging.Int("airlines", len(out)))
	return out, nil
}

// Airport returns the airport with the given IATA code, or
// model.ErrUnknownCode when the upstream has no details for it.
func (d *FR24Directory) Airport(ctx context.Context, iata string) (model.Airport, error) {
	code := strings.ToUpper(strings.TrimSpace(iata))
	if code == "" {
		return model.Airport{}, fmt.Errorf("empty airport code: %w", model.ErrUnknownCode)
	}
	res, cached := d.airports.Get(code)
	d.record("airport", cached)
	if !cached {
		var err error
		if res, err = d.fetchAirport(ctx, code); err != nil {
			return model.Airport{}, err
		}
		d.airports.Add(code, res)
	}
	if !res.ok {
		return model.Airport{}, fmt.Errorf("airport %q: %w", code, model.ErrUnknownCode)
	}
	return res.airport, nil
}

type airportDoc struct {
	Result struct {
		Response struct {
			Airport struct {
				PluginData struct {
					Details struct {
						Name string `json:"name"`
						Code struct {
							IATA string `json:"iata"`
							ICAO string `json:"icao"`
						} `json:"code"`
						Position struct {
							Latitude  float64 `json:"latitude"`
							Longitude float64 `json:"longitude"`
							Country   struct {
								Name string `json:"name"`
							} `json:"country"`
						} `json:"position"`
					} `json:"details"`
				} `json:"pluginData"`
			} `json:"airport"`
		} `json:"response"`
	} `json:"result"`
}

func (d *FR24Directory) fetchAirport(ctx context.Context, code string) (airportResult, error) {
	u, err := url.Parse(d.cfg.AirportURL)
	if err != nil {
		return airportResult{}, fmt.Errorf("airport url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()

	var doc airportDoc
	if err := d.getJSON(ctx, u.String(), &doc); err != nil {
		d.log.Debug(ctx, "airport lookup failed", logging.String("iata", code), logging.Err(err))
		return airportResult{}, err
	}
	det := doc.Result.Response.Airport.PluginData.Details
	if det.Name == "" {
		return airportResult{}, nil
	}
	return airportResult{
		ok: true,
		airport: model.Airport{
			IATA:      det.Code.IATA,
			ICAO:      det.Code.ICAO,
			Name:      det.Name,
			Country:   det.Position.Country.Name,
			Latitude:  det.Position.Latitude,
			Longitude: det.Position.Longitude,
			Found:     true,
		},
	}, nil
}

func (d *FR24Directory) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: %w: %s", req.URL.Path, ErrBadStatus, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w: %v", req.URL.Path, ErrMalformedFeed, err)
	}
	return nil
}

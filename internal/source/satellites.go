package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/model"
	"github.com/signalsfoundry/globe-tracker/timectrl"
)

const (
	kmToFeet = 3280.839895
	tleLen   = 69
)

// TLE is one two-line element set with an optional name line.
type TLE struct {
	Name  string
	Line1 string
	Line2 string
}

// CatalogNumber returns the NORAD catalogue number from line 1.
func (t TLE) CatalogNumber() string {
	return strings.TrimSpace(t.Line1[2:7])
}

// Validate checks the line layout and the modulo-10 checksums.
func (t TLE) Validate() error {
	for n, line := range []string{t.Line1, t.Line2} {
		if len(line) < tleLen {
			return fmt.Errorf("%w: line %d has %d characters", ErrInvalidTLE, n+1, len(line))
		}
		if line[0] != byte('1'+n) || line[1] != ' ' {
			return fmt.Errorf("%w: line %d has wrong line number", ErrInvalidTLE, n+1)
		}
		if want := int(line[68] - '0'); checksum(line[:68]) != want {
			return fmt.Errorf("%w: line %d checksum mismatch", ErrInvalidTLE, n+1)
		}
	}
	if t.Line1[2:7] != t.Line2[2:7] {
		return fmt.Errorf("%w: catalogue numbers differ", ErrInvalidTLE)
	}
	return nil
}

func checksum(s string) int {
	sum := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			sum += int(r - '0')
		case r == '-':
			sum++
		}
	}
	return sum % 10
}

// ParseTLEs reads element sets in the common two- or three-line format.
// Invalid sets are returned as an error naming the offending set.
func ParseTLEs(r io.Reader) ([]TLE, error) {
	var (
		out  []TLE
		name string
		l1   string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "1 ") && len(line) >= tleLen:
			l1 = line
		case strings.HasPrefix(line, "2 ") && len(line) >= tleLen && l1 != "":
			t := TLE{Name: strings.TrimSpace(name), Line1: l1, Line2: line}
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("element set %q: %w", t.Name, err)
			}
			out = append(out, t)
			name, l1 = "", ""
		default:
			name = strings.TrimPrefix(line, "0 ")
			l1 = ""
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read TLEs: %w", err)
	}
	return out, nil
}

// LoadTLEFile parses the TLE file at path.
func LoadTLEFile(path string) ([]TLE, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open TLE file: %w", err)
	}
	defer f.Close()
	return ParseTLEs(f)
}

type trackedSat struct {
	tle TLE
	sat satellite.Satellite
}

// Satellites propagates a fixed catalogue with SGP4 every time it is
// fetched, so each snapshot reflects the clock's current time.
type Satellites struct {
	clock timectrl.Clock
	log   logging.Logger
	sats  []trackedSat
}

// NewSatellites validates tles and prepares them for propagation.
func NewSatellites(tles []TLE, clock timectrl.Clock, log logging.Logger) (*Satellites, error) {
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	if log == nil {
		log = logging.Noop()
	}
	s := &Satellites{clock: clock, log: log}
	for _, t := range tles {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("element set %q: %w", t.Name, err)
		}
		s.sats = append(s.sats, trackedSat{
			tle: t,
			sat: satellite.TLEToSat(t.Line1, t.Line2, satellite.GravityWGS72),
		})
	}
	return s, nil
}

// Fetch returns one record per satellite whose propagation is usable.
func (s *Satellites) Fetch(ctx context.Context) ([]model.Record, error) {
	now := s.clock.Now().UTC()
	records := make([]model.Record, 0, len(s.sats))
	for _, ts := range s.sats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lat, lon, altKm, ok := subPoint(ts.sat, now)
		if !ok {
			s.log.Warn(ctx, "skipping satellite with unusable propagation",
				logging.String("norad_id", ts.tle.CatalogNumber()),
				logging.String("name", ts.tle.Name),
			)
			continue
		}
		heading := 0.0
		if lat2, lon2, _, ok := subPoint(ts.sat, now.Add(time.Second)); ok {
			heading = bearing(lat, lon, lat2, lon2)
		}

		payload, err := structpb.NewStruct(map[string]any{
			"norad_id": ts.tle.CatalogNumber(),
			"name":     ts.tle.Name,
			"alt_km":   altKm,
		})
		if err != nil {
			return nil, fmt.Errorf("build payload: %w", err)
		}

		records = append(records, model.Record{
			Key:       ts.tle.CatalogNumber(),
			Kind:      model.KindSatellite,
			Latitude:  lat,
			Longitude: lon,
			Altitude:  altKm * kmToFeet,
			Heading:   heading,
			Callsign:  ts.tle.Name,
			Timestamp: now,
			Payload:   payload,
		})
	}
	return records, nil
}

// subPoint propagates sat to t and returns the geodetic sub-satellite point
// in degrees and the altitude in km.
func subPoint(sat satellite.Satellite, t time.Time) (lat, lon, altKm float64, ok bool) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	if posECI.X == 0 && posECI.Y == 0 && posECI.Z == 0 {
		return 0, 0, 0, false
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	altKm, _, ll := satellite.ECIToLLA(posECI, gmst)

	lat = ll.Latitude * 180 / math.Pi
	lon = ll.Longitude * 180 / math.Pi
	for _, v := range []float64{lat, lon, altKm} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, false
		}
	}
	return lat, lon, altKm, true
}

// bearing returns the initial great-circle bearing from point 1 to point 2
// in degrees clockwise from north, in [0, 360).
func bearing(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := lat1*math.Pi/180, lat2*math.Pi/180
	dl := (lon2 - lon1) * math.Pi / 180
	y := math.Sin(dl) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dl)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/globe-tracker/model"
)

// FileRecord is the on-disk form of one snapshot record.
type FileRecord struct {
	Key         string         `json:"key"`
	Kind        string         `json:"kind,omitempty"`
	Longitude   float64        `json:"lon"`
	Latitude    float64        `json:"lat"`
	Altitude    float64        `json:"alt_ft"`
	Heading     float64        `json:"heading"`
	Callsign    string         `json:"callsign,omitempty"`
	Squawk      string         `json:"squawk,omitempty"`
	Airline     string         `json:"airline_icao,omitempty"`
	Origin      string         `json:"origin_iata,omitempty"`
	Destination string         `json:"destination_iata,omitempty"`
	OnGround    bool           `json:"on_ground,omitempty"`
	Timestamp   int64          `json:"ts,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ParseKind maps a kind name to model.Kind. An empty name means aircraft.
func ParseKind(name string) model.Kind {
	switch strings.ToLower(name) {
	case "", "aircraft":
		return model.KindAircraft
	case "satellite":
		return model.KindSatellite
	case "weather":
		return model.KindWeather
	default:
		return model.KindUnknown
	}
}

// Record converts the file form into a snapshot record.
func (fr FileRecord) Record() (model.Record, error) {
	rec := model.Record{
		Key:             fr.Key,
		Kind:            ParseKind(fr.Kind),
		Longitude:       fr.Longitude,
		Latitude:        fr.Latitude,
		Altitude:        fr.Altitude,
		Heading:         fr.Heading,
		Callsign:        fr.Callsign,
		Squawk:          fr.Squawk,
		AirlineICAO:     fr.Airline,
		OriginIATA:      fr.Origin,
		DestinationIATA: fr.Destination,
		OnGround:        fr.OnGround,
	}
	if fr.Timestamp > 0 {
		rec.Timestamp = time.Unix(fr.Timestamp, 0).UTC()
	}
	if len(fr.Extra) > 0 {
		payload, err := structpb.NewStruct(fr.Extra)
		if err != nil {
			return model.Record{}, fmt.Errorf("record %q payload: %w", fr.Key, err)
		}
		rec.Payload = payload
	}
	return rec, nil
}

// File replays a snapshot stored as a JSON array of FileRecord. The file is
// re-read on every fetch, so editing it between cycles changes the snapshot.
type File struct {
	Path string
}

func (f File) Fetch(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var rows []FileRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode replay file: %w: %v", ErrMalformedFeed, err)
	}
	out := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

package model

import (
	"errors"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies what a tracked entity represents. It is resolved once when
// the entity is created and never re-derived from the concrete type.
type Kind int

const (
	KindUnknown Kind = iota
	KindAircraft
	KindSatellite
	KindWeather
)

func (k Kind) String() string {
	switch k {
	case KindAircraft:
		return "aircraft"
	case KindSatellite:
		return "satellite"
	case KindWeather:
		return "weather"
	default:
		return "unknown"
	}
}

// Capabilities is the set of interactions the UI layer may perform on an
// entity of a given kind.
type Capabilities struct {
	Positionable bool
	Selectable   bool
	Describable  bool
}

// CapabilitiesFor returns the capability set for kind.
func CapabilitiesFor(k Kind) Capabilities {
	switch k {
	case KindAircraft, KindSatellite, KindWeather:
		return Capabilities{Positionable: true, Selectable: true, Describable: true}
	default:
		return Capabilities{Positionable: true}
	}
}

// Record is one entry of a snapshot: everything the source knows about a
// single entity at fetch time.
type Record struct {
	// Key is the external stable identity (ICAO 24-bit address, NORAD id, ...).
	Key  string
	Kind Kind

	Longitude float64 // degrees
	Latitude  float64 // degrees
	Altitude  float64 // feet
	Heading   float64 // degrees

	Callsign        string
	Squawk          string
	AirlineICAO     string
	OriginIATA      string
	DestinationIATA string
	OnGround        bool
	Timestamp       time.Time

	// Payload carries the display-only fields of the source schema.
	Payload *structpb.Struct
}

// emergencySquawks are the transponder codes reserved for hijack, radio
// failure and general emergency.
var emergencySquawks = map[string]bool{"7500": true, "7600": true, "7700": true}

// EmergencySquawk reports whether the record carries an emergency code.
func (r Record) EmergencySquawk() bool {
	return emergencySquawks[r.Squawk]
}

// ErrUnknownCode reports that a metadata source answered and has no entry for
// the requested code. Any other lookup error is transient.
var ErrUnknownCode = errors.New("unknown code")

// Airline is auxiliary metadata for an operator. A zero Found means only the
// raw code is known.
type Airline struct {
	ICAO  string
	IATA  string
	Name  string
	Found bool
}

// DisplayName returns the airline name, or the raw code when unresolved.
func (a Airline) DisplayName() string {
	if a.Found && a.Name != "" {
		return a.Name
	}
	return a.ICAO
}

// Airport is auxiliary metadata for an airport.
type Airport struct {
	IATA      string
	ICAO      string
	Name      string
	Country   string
	Latitude  float64
	Longitude float64
	Found     bool
}

// DisplayName returns "Name (Country)", or the raw code when unresolved.
func (a Airport) DisplayName() string {
	if !a.Found || a.Name == "" {
		return a.IATA
	}
	if a.Country == "" {
		return a.Name
	}
	return a.Name + " (" + a.Country + ")"
}

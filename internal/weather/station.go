package weather

import (
	"encoding/json"
	"fmt"
	"os"
)

// Station is one weatherapi.com current-conditions document.
type Station struct {
	Location Location `json:"location"`
	Current  Current  `json:"current"`
}

type Location struct {
	Name    string  `json:"name"`
	Region  string  `json:"region,omitempty"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type Current struct {
	TempC      float64   `json:"temp_c"`
	WindKph    float64   `json:"wind_kph"`
	WindDegree float64   `json:"wind_degree"`
	Condition  Condition `json:"condition"`
}

type Condition struct {
	Text string `json:"text"`
}

// LoadStations reads a JSON array of stations from path.
func LoadStations(path string) ([]Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations %s: %w", path, err)
	}
	var stations []Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return nil, fmt.Errorf("decode stations %s: %w", path, err)
	}
	return stations, nil
}

package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWeatherAPICurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "secret" || q.Get("aqi") != "no" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if q.Get("q") == "nowhere" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"location":{"name":"Paris","country":"France","lat":48.87,"lon":2.33},
			"current":{"temp_c":21,"wind_kph":7.2,"wind_degree":180,"condition":{"text":"Clear"}}}`))
	}))
	defer srv.Close()

	api := NewWeatherAPI(WeatherAPIConfig{URL: srv.URL, Key: "secret"}, nil)
	st, err := api.Current(context.Background(), 48.87, 2.33)
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if st.Location.Name != "Paris" || st.Current.TempC != 21 || st.Current.Condition.Text != "Clear" {
		t.Fatalf("station = %+v", st)
	}

	if _, err := api.Lookup(context.Background(), "nowhere"); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("Lookup error = %v, want ErrNoLocation", err)
	}
}

func TestWeatherAPIDefaults(t *testing.T) {
	var cfg WeatherAPIConfig
	cfg.ApplyDefaults()
	if cfg.URL != defaultWeatherAPIURL || cfg.Timeout != defaultWeatherAPITimeout {
		t.Fatalf("defaults = %+v", cfg)
	}
}

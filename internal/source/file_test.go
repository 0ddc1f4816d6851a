package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/globe-tracker/model"
)

func TestFileFetchRereadsEachCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write replay: %v", err)
		}
	}

	write(`[{"key":"AB123","lon":10,"lat":20,"alt_ft":30000,"heading":90,"callsign":"TEST1","extra":{"note":"hi"}}]`)
	src := File{Path: path}

	recs, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "AB123" || recs[0].Kind != model.KindAircraft || recs[0].Altitude != 30000 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Payload.GetFields()["note"].GetStringValue() != "hi" {
		t.Fatalf("payload not carried")
	}

	write(`[]`)
	recs, err = src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("records = %d after rewrite, want 0", len(recs))
	}
}

func TestFileFetchErrors(t *testing.T) {
	if _, err := (File{Path: filepath.Join(t.TempDir(), "missing.json")}).Fetch(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (File{Path: path}).Fetch(context.Background()); !errors.Is(err, ErrMalformedFeed) {
		t.Fatalf("error = %v, want ErrMalformedFeed", err)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]model.Kind{
		"":          model.KindAircraft,
		"Aircraft":  model.KindAircraft,
		"satellite": model.KindSatellite,
		"weather":   model.KindWeather,
		"balloon":   model.KindUnknown,
	}
	for in, want := range cases {
		if got := ParseKind(in); got != want {
			t.Fatalf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFuncAdapter(t *testing.T) {
	boom := errors.New("boom")
	f := Func(func(context.Context) ([]model.Record, error) { return nil, boom })
	if _, err := f.Fetch(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
}

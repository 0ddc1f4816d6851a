package main

import (
	"context"
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/internal/observability"
	"github.com/signalsfoundry/globe-tracker/internal/reconcile"
	"github.com/signalsfoundry/globe-tracker/internal/selection"
	"github.com/signalsfoundry/globe-tracker/internal/weather"
	"github.com/signalsfoundry/globe-tracker/kb"
)

func newMux(rec *reconcile.Reconciler, sel *selection.Selection, reg *weather.Registry, collector *observability.Collector, log logging.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	mux.HandleFunc("GET /entities", func(w http.ResponseWriter, r *http.Request) {
		describe := r.URL.Query().Get("describe") == "1"
		items := make([]any, 0, rec.Len())
		for _, e := range rec.Entities() {
			items = append(items, entityDoc(r.Context(), e, describe))
		}
		writeList(w, r.Context(), items, log)
	})

	mux.HandleFunc("GET /weather", func(w http.ResponseWriter, r *http.Request) {
		points := reg.Points()
		items := make([]any, 0, len(points))
		for _, p := range points {
			st := p.Station()
			items = append(items, map[string]any{
				"name":        st.Location.Name,
				"country":     st.Location.Country,
				"lat":         st.Location.Lat,
				"lon":         st.Location.Lon,
				"temp_c":      st.Current.TempC,
				"wind_kph":    st.Current.WindKph,
				"wind_degree": st.Current.WindDegree,
				"mode":        reg.Mode().String(),
			})
		}
		writeList(w, r.Context(), items, log)
	})

	// POST /select?key=K replaces the selection with the entity tracked
	// under K and returns its description. An empty key clears it.
	mux.HandleFunc("POST /select", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			sel.Clear()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		e := rec.Get(key)
		if e == nil {
			http.Error(w, "unknown entity", http.StatusNotFound)
			return
		}
		sel.Set(e)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(sel.Describe(r.Context())))
	})

	return mux
}

func entityDoc(ctx context.Context, e *kb.TrackedEntity, describe bool) map[string]any {
	r := e.Record()
	pos := e.Position()
	doc := map[string]any{
		"key":       r.Key,
		"kind":      r.Kind.String(),
		"lon":       r.Longitude,
		"lat":       r.Latitude,
		"alt_ft":    r.Altitude,
		"heading":   r.Heading,
		"callsign":  r.Callsign,
		"on_ground": r.OnGround,
		"position":  map[string]any{"x": pos.X, "y": pos.Y, "z": pos.Z},
	}
	if r.Payload != nil {
		doc["payload"] = r.Payload.AsMap()
	}
	if describe {
		doc["description"] = e.Describe(ctx)
	}
	return doc
}

func writeList(w http.ResponseWriter, ctx context.Context, items []any, log logging.Logger) {
	list, err := structpb.NewList(items)
	if err != nil {
		log.Warn(ctx, "encode list failed", logging.Err(err))
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	body, err := protojson.Marshal(list)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

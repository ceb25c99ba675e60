package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAccumulates(t *testing.T) {
	IncrCounterWithGroup("testgrp", "hits", 1)
	IncrCounterWithGroup("testgrp", "hits", 2)

	vals, err := Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got := vals["nagare_testgrp_hits"]; got != 3 {
		t.Errorf("counter = %v, want 3", got)
	}
}

func TestCounterDimensions(t *testing.T) {
	IncrCounterWithDimGroup("testgrp", "rejected", 1, Dimension{"reason": "key"})
	IncrCounterWithDimGroup("testgrp", "rejected", 1, Dimension{"reason": "capacity"})
	IncrCounterWithDimGroup("testgrp", "rejected", 4, Dimension{"reason": "key"})

	vals, err := Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// Gather sums across label values.
	if got := vals["nagare_testgrp_rejected"]; got != 6 {
		t.Errorf("counter = %v, want 6", got)
	}
}

func TestGaugeLastValueWins(t *testing.T) {
	UpdateGaugeWithGroup("testgrp", "peers", 5)
	UpdateGaugeWithGroup("testgrp", "peers", 2)

	vals, err := Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got := vals["nagare_testgrp_peers"]; got != 2 {
		t.Errorf("gauge = %v, want 2", got)
	}
}

func TestGaugeDimensions(t *testing.T) {
	UpdateGaugeWithDimGroup("testgrp", "queue_depth", 7, Dimension{"role": "server"})
	UpdateGaugeWithDimGroup("testgrp", "queue_depth", 3, Dimension{"role": "server"})

	vals, err := Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got := vals["nagare_testgrp_queue_depth"]; got != 3 {
		t.Errorf("gauge = %v, want 3", got)
	}
}

func TestHistogramObserve(t *testing.T) {
	ObserveHistogramWithGroup("testgrp", "drain_seconds", 0.25)
	ObserveHistogramWithGroup("testgrp", "drain_seconds", 0.75)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "nagare_testgrp_drain_seconds_count 2") {
		t.Errorf("histogram count missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "nagare_testgrp_drain_seconds_sum 1") {
		t.Errorf("histogram sum missing from exposition:\n%s", body)
	}
}

func TestHandlerExposition(t *testing.T) {
	IncrCounterWithGroup("testgrp", "exposed", 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nagare_testgrp_exposed") {
		t.Error("exposition output missing recorded metric")
	}
}

func TestSortedLabelsStable(t *testing.T) {
	names, values := sortedLabels(Dimension{"b": "2", "a": "1", "c": "3"})
	wantNames := []string{"a", "b", "c"}
	for i, n := range wantNames {
		if names[i] != n {
			t.Fatalf("names = %v, want %v", names, wantNames)
		}
	}
	if values[0] != "1" || values[1] != "2" || values[2] != "3" {
		t.Fatalf("values = %v out of order", values)
	}
}

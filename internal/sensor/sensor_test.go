package sensor

import "testing"

func TestSet_DebounceChanged(t *testing.T) {
	s := New("gw1", "n1", "temp", Config{
		Kind:     Gauge,
		Debounce: Debounce{Changed: true},
	})

	changed, err := s.Set(21.0, true, false, 0)
	if err != nil || !changed {
		t.Fatalf("first write: changed=%v err=%v, want true/nil", changed, err)
	}
	if s.HitsTotal != 1 {
		t.Fatalf("hits_total = %d, want 1", s.HitsTotal)
	}

	changed, err = s.Set(21.0, true, false, 1)
	if err != nil || changed {
		t.Fatalf("repeat write: changed=%v err=%v, want false/nil", changed, err)
	}
	if s.HitsTotal != 1 {
		t.Fatalf("hits_total after debounced repeat = %d, want 1", s.HitsTotal)
	}

	changed, err = s.Set(21.5, true, false, 2)
	if err != nil || !changed {
		t.Fatalf("changed write: changed=%v err=%v, want true/nil", changed, err)
	}
	if s.HitsTotal != 2 || s.PrevValue != 21.0 {
		t.Fatalf("hits_total=%d prev_value=%v, want 2/21.0", s.HitsTotal, s.PrevValue)
	}
}

func TestSet_TTLDefaultReturnFalse(t *testing.T) {
	ttl := 5.0
	s := New("gw1", "n1", "door", Config{
		Kind:    Binary,
		TTL:     &ttl,
		Default: DefaultConfig{Value: false, DefaultReturnTTL: false},
	})

	if changed, _ := s.Set(true, true, false, 0); !changed {
		t.Fatal("expected accepted write")
	}
	s.TTLJobID = "exp-n1-door" // simulate scheduler having armed the job

	if changed, _ := s.Set(false, true, false, 3); !changed {
		t.Fatal("expected accepted write back to default")
	}
	if s.TTLJobID != "" {
		t.Fatalf("TTLJobID = %q, want empty after soft reset on default-return-ttl=false", s.TTLJobID)
	}
	if s.Value != false {
		t.Fatalf("value = %v, want false", s.Value)
	}
}

func TestSet_Hold(t *testing.T) {
	s := New("gw1", "n1", "x", Config{Kind: Gauge})
	s.SetHold(false)
	if changed, _ := s.Set(1.0, true, false, 0); changed {
		t.Fatal("expected write to be blocked while held")
	}
	s.SetHold(true)
	if changed, _ := s.Set(1.0, true, false, 0); !changed {
		t.Fatal("expected write to be accepted after release")
	}
}

func TestSet_DebounceHits(t *testing.T) {
	s := New("gw1", "n1", "x", Config{
		Kind:     Gauge,
		Debounce: Debounce{Hits: 2},
	})

	if changed, _ := s.Set(1.0, true, false, 0); !changed {
		t.Fatal("first write should be accepted and arm debounce_hits_remaining")
	}
	if changed, _ := s.Set(2.0, true, false, 1); changed {
		t.Fatal("second write should be dropped (1 of 2 remaining)")
	}
	if changed, _ := s.Set(3.0, true, false, 2); changed {
		t.Fatal("third write should be dropped (2 of 2 remaining)")
	}
	if changed, _ := s.Set(4.0, true, false, 3); !changed {
		t.Fatal("fourth write should be accepted, debounce window elapsed")
	}
}

func TestSet_DebounceTime(t *testing.T) {
	s := New("gw1", "n1", "x", Config{
		Kind:     Gauge,
		Debounce: Debounce{Time: 10},
	})
	if changed, _ := s.Set(1.0, true, false, 100); !changed {
		t.Fatal("first write should be accepted")
	}
	if changed, _ := s.Set(2.0, true, false, 105); changed {
		t.Fatal("write within debounce.time should be dropped")
	}
	if changed, _ := s.Set(3.0, true, false, 111); !changed {
		t.Fatal("write after debounce.time should be accepted")
	}
}

func TestSet_Increment(t *testing.T) {
	s := New("gw1", "n1", "counter1", Config{Kind: Counter, Default: DefaultConfig{Value: 0.0}})
	s.Value = 5.0
	if changed, _ := s.Set(3.0, true, true, 0); !changed {
		t.Fatal("increment write should be accepted")
	}
	if s.Value != 8.0 {
		t.Fatalf("value = %v, want 8", s.Value)
	}
}

func TestCoerce_Boolean(t *testing.T) {
	cases := []struct {
		in   interface{}
		want bool
	}{
		{"True", true}, {"on", true}, {"Yes", true}, {"1", true},
		{"False", false}, {"off", false}, {"No", false}, {"0", false},
		{"whatever", true}, {"", false},
	}
	for _, c := range cases {
		got, err := Coerce(Binary, c.in)
		if err != nil {
			t.Fatalf("Coerce(%q): unexpected error %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Coerce(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestReset_SoftReset(t *testing.T) {
	s := New("gw1", "n1", "x", Config{Kind: Gauge, Default: DefaultConfig{Value: 0.0}})
	s.Set(42.0, true, false, 0)
	s.DatasetReady = true
	s.TTLJobID = "exp-n1-x"

	if changed := s.Reset(); !changed {
		t.Fatal("expected value change on reset")
	}
	if s.Value != 0.0 || s.DatasetReady || s.TTLJobID != "" {
		t.Fatalf("unexpected post-reset state: value=%v datasetReady=%v ttl=%q", s.Value, s.DatasetReady, s.TTLJobID)
	}

	if changed := s.Reset(); changed {
		t.Fatal("resetting an already-default sensor should report no change")
	}
}

func TestDoEval_NoRequireVarsSkips(t *testing.T) {
	s := New("gw1", "n1", "y", Config{
		Kind: Gauge,
		Eval: EvalConfig{Code: "x * 2", Require: map[string]RequireRef{"x": {SensorID: "x", Metric: "value"}}},
	})
	changed := s.DoEval(nil, nil, false, func(code string, vars map[string]interface{}) (interface{}, error) {
		t.Fatal("run should not be called when require vars are empty")
		return nil, nil
	})
	if changed {
		t.Fatal("expected no change when require vars are missing")
	}
}

func TestDoEval_AppliesResult(t *testing.T) {
	s := New("gw1", "n1", "y", Config{
		Kind: Gauge,
		Eval: EvalConfig{Code: "x * 2", Require: map[string]RequireRef{"x": {SensorID: "x", Metric: "value"}}},
	})
	changed := s.DoEval(map[string]interface{}{"x": 3.0}, nil, true, func(code string, vars map[string]interface{}) (interface{}, error) {
		return vars["x"].(float64) * 2, nil
	})
	if !changed || s.Value != 6.0 {
		t.Fatalf("changed=%v value=%v, want true/6.0", changed, s.Value)
	}
}

func TestDoEval_ErrorIsSilent(t *testing.T) {
	s := New("gw1", "n1", "y", Config{Kind: Gauge, Eval: EvalConfig{Code: "bad"}})
	changed := s.DoEval(map[string]interface{}{}, nil, true, func(code string, vars map[string]interface{}) (interface{}, error) {
		return nil, errBoom
	})
	if changed {
		t.Fatal("expected interpreter error to be swallowed as no-change")
	}
}

var errBoom = errFixture("boom")

type errFixture string

func (e errFixture) Error() string { return string(e) }

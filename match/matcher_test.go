package match

import "testing"

func TestMatchSingleToken(t *testing.T) {
	cases := []struct {
		text    string
		keyword string
		want    bool
	}{
		{"the server is down now", "server", true},
		{"The SERVER is down", "server", true},
		{"all systems nominal", "server", false},
		{"überraschung für dich", "überraschung", true},
		{"substring inside anotherword", "other", true},
	}

	for _, c := range cases {
		got, ok := Match(c.text, []string{c.keyword})
		if ok != c.want {
			t.Errorf("Match(%q, %q): ok=%v, want %v", c.text, c.keyword, ok, c.want)
		}
		if ok && got != c.keyword {
			t.Errorf("Match(%q, %q): keyword=%q", c.text, c.keyword, got)
		}
	}
}

func TestMatchCombinedOrderIndependent(t *testing.T) {
	kws := []string{"server down"}

	if _, ok := Match("the server is down now", kws); !ok {
		t.Error("tokens apart: expected match")
	}
	if _, ok := Match("down goes the server", kws); !ok {
		t.Error("reversed order: expected match")
	}
	if _, ok := Match("the server is up", kws); ok {
		t.Error("missing token: expected no match")
	}
}

func TestMatchCombinedWinsOverSingle(t *testing.T) {
	// Combined keywords are evaluated first even when a single-token
	// keyword also matches, and even when it appears earlier in the list.
	kws := []string{"urgent", "server down"}

	kw, ok := Match("urgent: the server is down", kws)
	if !ok {
		t.Fatal("expected match")
	}
	if kw != "server down" {
		t.Errorf("matched %q, want combined keyword to win", kw)
	}
}

func TestMatchScenario(t *testing.T) {
	// No single keyword matches but the combined one does.
	kws := []string{"urgent", "server down"}

	kw, ok := Match("the server is down now", kws)
	if !ok || kw != "server down" {
		t.Fatalf("got (%q, %v), want (\"server down\", true)", kw, ok)
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	if _, ok := Match("anything", nil); ok {
		t.Error("nil keywords: expected no match")
	}
	if _, ok := Match("anything", []string{""}); ok {
		t.Error("empty keyword: expected no match")
	}
	if _, ok := Match("", []string{"kw"}); ok {
		t.Error("empty text: expected no match")
	}
}

package match

import "testing"

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("  hello \t world\n\n again ")
	if got != "hello world again" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeStripsZeroWidth(t *testing.T) {
	got := Normalize("he\u200bllo\ufeff world\u00ad")
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeDropsDuplicatedTimestamps(t *testing.T) {
	got := Normalize("meeting at 3:45 PM 3:45 PM in room 4")
	if got != "meeting at 3:45 PM in room 4" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeDropsRepeatedTokens(t *testing.T) {
	got := Normalize("see example.com example.com for details details")
	if got != "see example.com for details" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeStripsMarkup(t *testing.T) {
	got := Normalize(`<div class="msg"><b>server</b> is down</div>`)
	if got != "server is down" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeForHashIgnoresCosmetics(t *testing.T) {
	a := NormalizeForHash("Server DOWN!!!")
	b := NormalizeForHash("server down")
	if a != b {
		t.Errorf("%q != %q", a, b)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if got := Normalize("   \u200b  "); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

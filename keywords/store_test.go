package keywords

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/chatwatch/dbopen"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db)
}

func TestStore_AddListDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	kw, err := s.Add(ctx, "server down")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(kw.ID, "kw_") {
		t.Fatalf("expected kw_ prefix, got %q", kw.ID)
	}
	if kw.Phrase != "server down" {
		t.Fatalf("phrase = %q", kw.Phrase)
	}

	if _, err := s.Add(ctx, "urgent"); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 keywords, got %d", len(list))
	}
	if list[0].Phrase != "server down" || list[1].Phrase != "urgent" {
		t.Fatalf("unexpected order: %q, %q", list[0].Phrase, list[1].Phrase)
	}

	if err := s.Delete(ctx, kw.ID); err != nil {
		t.Fatal(err)
	}
	list, err = s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 keyword after delete, got %d", len(list))
	}
}

func TestStore_AddDuplicatePhrase(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "deploy"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "deploy"); err == nil {
		t.Fatal("expected error for duplicate phrase")
	}
}

func TestStore_AddEmptyPhrase(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, phrase := range []string{"", "   ", "\t\n"} {
		if _, err := s.Add(ctx, phrase); err != ErrEmptyPhrase {
			t.Errorf("Add(%q): expected ErrEmptyPhrase, got %v", phrase, err)
		}
	}

	kw, err := s.Add(ctx, "  server down  ")
	if err != nil {
		t.Fatal(err)
	}
	if kw.Phrase != "server down" {
		t.Fatalf("phrase = %q, want trimmed", kw.Phrase)
	}
}

func TestStore_DeleteMissing(t *testing.T) {
	s := testStore(t)

	err := s.Delete(context.Background(), "kw_nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Phrases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, p := range []string{"alpha", "beta", "gamma"} {
		if _, err := s.Add(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	phrases, err := s.Phrases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(phrases) != 3 {
		t.Fatalf("expected 3 phrases, got %d", len(phrases))
	}
	if phrases[0] != "alpha" || phrases[2] != "gamma" {
		t.Fatalf("unexpected phrases: %v", phrases)
	}
}

func TestStore_ActiveFlag(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("expected inactive by default")
	}

	if err := s.SetActive(ctx, true); err != nil {
		t.Fatal(err)
	}
	active, err = s.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Fatal("expected active after SetActive(true)")
	}

	if err := s.SetActive(ctx, false); err != nil {
		t.Fatal(err)
	}
	active, err = s.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("expected inactive after SetActive(false)")
	}
}

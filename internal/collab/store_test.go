package collab

import (
	"context"
	"testing"
	"time"
)

func TestUpsertValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	cases := []UpsertInput{
		{Title: "No ID", Lyrics: "la"},
		{ExternalTrackID: "t1", Lyrics: "la"},
		{ExternalTrackID: "t1", Title: "Bad BPM", BPM: 500},
	}
	for _, in := range cases {
		if _, err := svc.Upsert(ctx, in); err == nil {
			t.Fatalf("input %+v accepted", in)
		}
	}
}

func TestUpsertMergePreservesOmittedFields(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	first, err := svc.Upsert(ctx, UpsertInput{
		ExternalTrackID: "t1",
		Title:           "Night Drive",
		BPM:             92,
		Lyrics:          "verse one",
		Collaborators:   []string{"ana", "ben"},
		Source:          "studio-app",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Second write omits collaborators, source and bpm.
	second, err := svc.Upsert(ctx, UpsertInput{
		ExternalTrackID: "t1",
		Title:           "Night Drive",
		Lyrics:          "verse one, verse two",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.BPM != 92 || second.Source != "studio-app" {
		t.Fatalf("omitted fields not preserved: %+v", second)
	}
	if len(second.Collaborators) != 2 {
		t.Fatalf("collaborators not preserved: %v", second.Collaborators)
	}
	if second.Lyrics != "verse one, verse two" {
		t.Fatalf("lyrics not replaced: %q", second.Lyrics)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) && !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updatedAt went backwards: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	in := UpsertInput{
		ExternalTrackID: "t1",
		Title:           "Echoes",
		Lyrics:          "same words",
		Source:          "mobile",
	}

	first, err := svc.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := svc.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	// Identical content keeps updatedAt; only receivedAt moves.
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updatedAt changed on identical upsert: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
	if !second.ReceivedAt.After(first.ReceivedAt) {
		t.Fatalf("receivedAt did not advance: %v -> %v", first.ReceivedAt, second.ReceivedAt)
	}

	got, ok, err := svc.Get(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Lyrics != in.Lyrics || got.Source != in.Source {
		t.Fatalf("stored draft diverged: %+v", got)
	}
}

func TestListFiltersAndOrder(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	drafts := []UpsertInput{
		{ExternalTrackID: "a", Title: "A", ProjectID: "p1", Source: "web", Lyrics: "a"},
		{ExternalTrackID: "b", Title: "B", ProjectID: "p1", Source: "mobile", Lyrics: "b"},
		{ExternalTrackID: "c", Title: "C", ProjectID: "p2", Source: "web", Lyrics: "c"},
	}
	for _, in := range drafts {
		if _, err := svc.Upsert(ctx, in); err != nil {
			t.Fatalf("upsert %s: %v", in.ExternalTrackID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, err := svc.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List = %d drafts, want 3", len(all))
	}
	// Newest updatedAt first.
	if all[0].ExternalTrackID != "c" || all[2].ExternalTrackID != "a" {
		t.Fatalf("unexpected order: %s, %s, %s",
			all[0].ExternalTrackID, all[1].ExternalTrackID, all[2].ExternalTrackID)
	}

	p1, err := svc.List(ctx, Filter{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("List p1: %v", err)
	}
	if len(p1) != 2 {
		t.Fatalf("project filter = %d drafts, want 2", len(p1))
	}

	web, err := svc.List(ctx, Filter{ProjectID: "p1", Source: "web"})
	if err != nil {
		t.Fatalf("List p1/web: %v", err)
	}
	if len(web) != 1 || web[0].ExternalTrackID != "a" {
		t.Fatalf("combined filter = %v", web)
	}
}

func TestGetMissing(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, ok, err := svc.Get(context.Background(), "nope"); err != nil || ok {
		t.Fatalf("missing draft: ok=%v err=%v", ok, err)
	}
}

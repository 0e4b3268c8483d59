package chat

import (
	"context"
	"sync"
	"testing"

	"rownak/pkg/models"
	"rownak/pkg/reactions"
	"rownak/pkg/store/memstore"
)

// Two participants on separate connections to one store: both must
// converge on the same ordered list and the same reaction sets.
func TestTwoParticipantConversation(t *testing.T) {
	shared := memstore.New()
	ctx := context.Background()

	aliceID := models.Identity{UID: "u-alice", Email: "alice@x.com", DisplayName: "Alice"}
	bobID := models.Identity{UID: "u-bob", Email: "bob@x.com", DisplayName: "Bob"}

	aliceConn, bobConn := shared.NewClient(), shared.NewClient()
	alice := NewStream(aliceConn, aliceID, nil, nil, nil)
	bob := NewStream(bobConn, bobID, nil, nil, nil)
	for _, s := range []*Stream{alice, bob} {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		defer s.Stop()
	}

	if err := alice.Send(ctx, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := bob.Send(ctx, "yo"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	av, bv := alice.Messages(), bob.Messages()
	if len(av) != 2 || len(bv) != 2 {
		t.Fatalf("views diverge: %d vs %d messages", len(av), len(bv))
	}
	for i := range av {
		if av[i].ID != bv[i].ID {
			t.Fatalf("order diverges at %d: %s vs %s", i, av[i].ID, bv[i].ID)
		}
	}
	hi := av[0]
	if hi.Text != "hi" || av[1].Text != "yo" {
		t.Fatalf("unexpected order: %q then %q", av[0].Text, av[1].Text)
	}

	// Bob thumbs up, then Alice joins in.
	am := reactions.NewMerger(aliceConn, nil)
	bm := reactions.NewMerger(bobConn, nil)
	if err := bm.Toggle(ctx, hi.ID, "👍", bobID.UID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := am.Toggle(ctx, hi.ID, "👍", aliceID.UID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	got, ok := alice.Lookup(hi.ID)
	if !ok || got.ReactorCount("👍") != 2 {
		t.Fatalf("thumbs not merged: %+v", got.Reactions)
	}

	// Both toggle hearts concurrently; neither write may be lost.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = am.Toggle(ctx, hi.ID, "❤️", aliceID.UID) }()
	go func() { defer wg.Done(); _ = bm.Toggle(ctx, hi.ID, "❤️", bobID.UID) }()
	wg.Wait()

	aGot, _ := alice.Lookup(hi.ID)
	bGot, _ := bob.Lookup(hi.ID)
	if aGot.ReactorCount("❤️") != 2 || bGot.ReactorCount("❤️") != 2 {
		t.Fatalf("concurrent hearts lost: alice=%v bob=%v", aGot.Reactions, bGot.Reactions)
	}
	if !aGot.ReactedBy("❤️", "u-alice") || !aGot.ReactedBy("❤️", "u-bob") {
		t.Fatalf("membership wrong: %v", aGot.Reactions["❤️"])
	}
}

package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"sportsexchange/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAddAndBestBackLay(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "bk1", UserID: "u1", Side: model.SideBack, Price: d("2.40"), RemainingStake: d("10"), Seq: 1})
	b.Add(&Entry{OrderID: "bk2", UserID: "u1", Side: model.SideBack, Price: d("2.50"), RemainingStake: d("5"), Seq: 2})
	b.Add(&Entry{OrderID: "ly1", UserID: "u2", Side: model.SideLay, Price: d("2.60"), RemainingStake: d("10"), Seq: 3})
	b.Add(&Entry{OrderID: "ly2", UserID: "u2", Side: model.SideLay, Price: d("2.70"), RemainingStake: d("5"), Seq: 4})

	if b.Size() != 4 {
		t.Fatalf("expected size 4, got %d", b.Size())
	}
	if bb := b.BestBack(); bb == nil || !bb.Equal(d("2.50")) {
		t.Fatalf("expected best back 2.50, got %v", bb)
	}
	if bl := b.BestLay(); bl == nil || !bl.Equal(d("2.60")) {
		t.Fatalf("expected best lay 2.60, got %v", bl)
	}
}

func TestPriceTimePriorityLaySide(t *testing.T) {
	b := New()

	// Two resting LAY orders at same price; first placed should match first.
	b.Add(&Entry{OrderID: "ly1", UserID: "u2", Side: model.SideLay, Price: d("2.00"), RemainingStake: d("3"), Seq: 1})
	b.Add(&Entry{OrderID: "ly2", UserID: "u2", Side: model.SideLay, Price: d("2.00"), RemainingStake: d("3"), Seq: 2})

	matches := b.FindMatches(model.SideBack, d("2.00"), d("4"), "u1")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Entry.OrderID != "ly1" {
		t.Fatalf("expected first match ly1, got %s", matches[0].Entry.OrderID)
	}
	if !matches[0].FillStake.Equal(d("3")) {
		t.Fatalf("expected first fill 3, got %s", matches[0].FillStake)
	}
	if matches[1].Entry.OrderID != "ly2" {
		t.Fatalf("expected second match ly2, got %s", matches[1].Entry.OrderID)
	}
	if !matches[1].FillStake.Equal(d("1")) {
		t.Fatalf("expected second fill 1, got %s", matches[1].FillStake)
	}
}

func TestPriceImprovementAcrossLevels(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "ly1", UserID: "u2", Side: model.SideLay, Price: d("2.00"), RemainingStake: d("2"), Seq: 1})
	b.Add(&Entry{OrderID: "ly2", UserID: "u2", Side: model.SideLay, Price: d("2.10"), RemainingStake: d("3"), Seq: 2})
	b.Add(&Entry{OrderID: "ly3", UserID: "u2", Side: model.SideLay, Price: d("2.20"), RemainingStake: d("5"), Seq: 3})

	// Incoming BACK @ 2.20 stake 6 -> fills 2@2.00 + 3@2.10 + 1@2.20
	matches := b.FindMatches(model.SideBack, d("2.20"), d("6"), "u1")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	total := decimal.Zero
	for _, m := range matches {
		total = total.Add(m.FillStake)
	}
	if !total.Equal(d("6")) {
		t.Fatalf("expected total fill 6, got %s", total)
	}
	if !matches[0].FillPrice.Equal(d("2.00")) {
		t.Fatalf("expected best price 2.00 fills first, got %s", matches[0].FillPrice)
	}
	if !matches[2].FillStake.Equal(d("1")) {
		t.Fatalf("expected partial fill 1 at 2.20, got %s", matches[2].FillStake)
	}
}

func TestSelfTradePreventionSkips(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "ly1", UserID: "u1", Side: model.SideLay, Price: d("2.00"), RemainingStake: d("5"), Seq: 1})
	b.Add(&Entry{OrderID: "ly2", UserID: "u2", Side: model.SideLay, Price: d("2.10"), RemainingStake: d("5"), Seq: 2})

	matches := b.FindMatches(model.SideBack, d("5.00"), d("3"), "u1")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match (skipping self), got %d", len(matches))
	}
	if matches[0].Entry.UserID != "u2" {
		t.Fatalf("expected match with u2, got %s", matches[0].Entry.UserID)
	}
}

func TestRemoveOrder(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "bk1", UserID: "u1", Side: model.SideBack, Price: d("2.00"), RemainingStake: d("5"), Seq: 1})
	b.Add(&Entry{OrderID: "bk2", UserID: "u1", Side: model.SideBack, Price: d("2.00"), RemainingStake: d("3"), Seq: 2})

	removed := b.Remove("bk1")
	if removed == nil || removed.OrderID != "bk1" {
		t.Fatal("expected to remove bk1")
	}
	if b.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", b.Size())
	}
	if bb := b.BestBack(); bb == nil || !bb.Equal(d("2.00")) {
		t.Fatal("best back should still be 2.00")
	}
}

func TestRemoveLastAtLevel(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "ly1", UserID: "u1", Side: model.SideLay, Price: d("2.00"), RemainingStake: d("5"), Seq: 1})
	b.Remove("ly1")

	if b.BestLay() != nil {
		t.Fatal("expected no best lay after removing only order")
	}
	if b.Size() != 0 {
		t.Fatal("expected empty book")
	}
}

func TestApplyFillPartialAndFull(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "ly1", UserID: "u1", Side: model.SideLay, Price: d("2.00"), RemainingStake: d("10"), Seq: 1})

	rem := b.ApplyFill("ly1", d("3"))
	if !rem.Equal(d("7")) {
		t.Fatalf("expected remaining 7, got %s", rem)
	}
	if b.Size() != 1 {
		t.Fatal("order should still be in book")
	}

	rem = b.ApplyFill("ly1", d("7"))
	if !rem.IsZero() {
		t.Fatalf("expected remaining 0, got %s", rem)
	}
	if b.Size() != 0 {
		t.Fatal("order should be removed once fully filled")
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	b := New()
	b.Add(&Entry{OrderID: "bk1", UserID: "u1", Side: model.SideBack, Price: d("2.00"), RemainingStake: d("5"), Seq: 1})
	b.Add(&Entry{OrderID: "bk1", UserID: "u1", Side: model.SideBack, Price: d("2.00"), RemainingStake: d("5"), Seq: 2})

	if b.Size() != 1 {
		t.Fatalf("expected size 1 (dup ignored), got %d", b.Size())
	}
}

func TestFindMatchesBackSide(t *testing.T) {
	b := New()

	b.Add(&Entry{OrderID: "bk1", UserID: "u1", Side: model.SideBack, Price: d("2.60"), RemainingStake: d("5"), Seq: 1})
	b.Add(&Entry{OrderID: "bk2", UserID: "u1", Side: model.SideBack, Price: d("2.50"), RemainingStake: d("5"), Seq: 2})

	// Incoming LAY @ 2.50 -> should match resting back at 2.60 first (higher price).
	matches := b.FindMatches(model.SideLay, d("2.50"), d("8"), "u2")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if !matches[0].FillPrice.Equal(d("2.60")) {
		t.Fatalf("expected first fill at 2.60, got %s", matches[0].FillPrice)
	}
	total := decimal.Zero
	for _, m := range matches {
		total = total.Add(m.FillStake)
	}
	if !total.Equal(d("8")) {
		t.Fatalf("expected total 8, got %s", total)
	}
}

func TestSnapshotDepth(t *testing.T) {
	b := New()
	for i := 1; i <= 5; i++ {
		b.Add(&Entry{OrderID: "bk" + string(rune('0'+i)), UserID: "u1", Side: model.SideBack,
			Price: decimal.NewFromInt(int64(2 + i)), RemainingStake: d("1"), Seq: int64(i)})
	}
	for i := 1; i <= 5; i++ {
		b.Add(&Entry{OrderID: "ly" + string(rune('0'+i)), UserID: "u2", Side: model.SideLay,
			Price: decimal.NewFromInt(int64(10 + i)), RemainingStake: d("1"), Seq: int64(5 + i)})
	}

	backs, lays := b.Snapshot(3)
	if len(backs) != 3 {
		t.Fatalf("expected 3 back levels, got %d", len(backs))
	}
	if len(lays) != 3 {
		t.Fatalf("expected 3 lay levels, got %d", len(lays))
	}
	if !backs[0].Price.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected top back level 7, got %s", backs[0].Price)
	}
	if !lays[0].Price.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("expected top lay level 11, got %s", lays[0].Price)
	}
}

package wsus

import (
	"testing"
	"time"
)

func TestUpdateFilterZeroValueMatchesEverything(t *testing.T) {
	var f UpdateFilter
	for _, state := range []ApprovalState{NotApproved, Approved, Declined} {
		if !f.Matches(UpdateRecord{ApprovalState: state}) {
			t.Fatalf("zero filter rejected state %s", state)
		}
	}
}

func TestUpdateFilterApprovalStates(t *testing.T) {
	f := UpdateFilter{ApprovalStates: []ApprovalState{Declined}}

	if !f.Matches(UpdateRecord{ApprovalState: Declined}) {
		t.Fatal("expected declined record to match")
	}
	if f.Matches(UpdateRecord{ApprovalState: Approved}) {
		t.Fatal("approved record should not match a declined-only filter")
	}
}

func TestUpdateFilterDateRangeIsHalfOpen(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	f := UpdateFilter{From: from, To: to}

	if !f.Matches(UpdateRecord{ArrivalDate: from}) {
		t.Fatal("lower bound should be inclusive")
	}
	if f.Matches(UpdateRecord{ArrivalDate: to}) {
		t.Fatal("upper bound should be exclusive")
	}
	if f.Matches(UpdateRecord{ArrivalDate: from.Add(-time.Second)}) {
		t.Fatal("record before the range should not match")
	}
}

func TestUpdateFilterApplyPreservesOrder(t *testing.T) {
	records := []UpdateRecord{
		{ID: "a", ApprovalState: NotApproved},
		{ID: "b", ApprovalState: Approved},
		{ID: "c", ApprovalState: NotApproved},
	}
	got := UpdateFilter{ApprovalStates: []ApprovalState{NotApproved}}.Apply(records)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}

package wsus

import "testing"

func TestDefaultTargetGroupPrefersAllComputers(t *testing.T) {
	groups := []TargetGroup{
		{ID: "11111111-1111-1111-1111-111111111111", Name: "Servers"},
		{ID: "A0A08746-4DBE-4A37-9ADF-9E7652C0B421", Name: "All Computers"},
	}
	got, ok := DefaultTargetGroup(groups)
	if !ok || got.Name != "All Computers" {
		t.Fatalf("got %+v, want All Computers", got)
	}
}

func TestDefaultTargetGroupMatchesNameWhenIDUnknown(t *testing.T) {
	groups := []TargetGroup{{Name: "Servers"}, {Name: "all computers"}}
	got, ok := DefaultTargetGroup(groups)
	if !ok || got.Name != "all computers" {
		t.Fatalf("got %+v, want the all computers group", got)
	}
}

func TestDefaultTargetGroupFallsBackToFirst(t *testing.T) {
	groups := []TargetGroup{{ID: "x", Name: "Workstations"}, {ID: "y", Name: "Servers"}}
	got, ok := DefaultTargetGroup(groups)
	if !ok || got.ID != "x" {
		t.Fatalf("got %+v, want first group", got)
	}
}

func TestDefaultTargetGroupEmpty(t *testing.T) {
	if _, ok := DefaultTargetGroup(nil); ok {
		t.Fatal("expected no group from an empty list")
	}
}

func TestFindTargetGroupByNameOrID(t *testing.T) {
	groups := []TargetGroup{{ID: "x", Name: "Workstations"}, {ID: "y", Name: "Servers"}}

	if g, ok := FindTargetGroup(groups, "servers"); !ok || g.ID != "y" {
		t.Fatalf("lookup by name: got %+v ok=%v", g, ok)
	}
	if g, ok := FindTargetGroup(groups, "x"); !ok || g.Name != "Workstations" {
		t.Fatalf("lookup by id: got %+v ok=%v", g, ok)
	}
	if _, ok := FindTargetGroup(groups, "Kiosks"); ok {
		t.Fatal("unknown group should not be found")
	}
	if g, ok := FindTargetGroup(groups, " "); !ok || g.ID != "x" {
		t.Fatalf("blank selector should yield default group, got %+v", g)
	}
}

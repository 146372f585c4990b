package alloc

import (
	"errors"
	"testing"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/workflow"
)

func newTestPortTable(t *testing.T) *PortTable {
	t.Helper()
	table, err := NewPortTable(t.TempDir())
	if err != nil {
		t.Fatalf("NewPortTable() error = %v", err)
	}
	return table
}

func TestReserveFirstFreeSlot(t *testing.T) {
	table := newTestPortTable(t)

	first, err := table.Reserve(workflow.FamilyApp, "app-11111111")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if first.Agent != 8100 || first.Preview != 8101 {
		t.Errorf("first slot = %+v, want 8100/8101", first)
	}

	second, err := table.Reserve(workflow.FamilyApp, "app-22222222")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if second.Agent != 8102 || second.Preview != 8103 {
		t.Errorf("second slot = %+v, want 8102/8103", second)
	}

	owner, err := table.Owner(workflow.FamilyApp, 0)
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if owner != "app-11111111" {
		t.Errorf("Owner(0) = %q", owner)
	}
}

func TestFamilyRangesDisjoint(t *testing.T) {
	table := newTestPortTable(t)

	app, err := table.Reserve(workflow.FamilyApp, "app-11111111")
	if err != nil {
		t.Fatalf("Reserve(app) error = %v", err)
	}
	infra, err := table.Reserve(workflow.FamilyInfra, "infra-22222222")
	if err != nil {
		t.Fatalf("Reserve(infra) error = %v", err)
	}

	if app.Agent != 8100 {
		t.Errorf("app agent = %d", app.Agent)
	}
	if infra.Agent != 8300 {
		t.Errorf("infra agent = %d", infra.Agent)
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	table := newTestPortTable(t)

	first, err := table.Reserve(workflow.FamilyApp, "app-11111111")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if _, err := table.Reserve(workflow.FamilyApp, "app-22222222"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if err := table.Release(workflow.FamilyApp, first); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	// The freed slot is the lowest free slot again.
	reused, err := table.Reserve(workflow.FamilyApp, "app-33333333")
	if err != nil {
		t.Fatalf("Reserve() after release error = %v", err)
	}
	if reused.Agent != first.Agent {
		t.Errorf("reused slot = %d, want %d", reused.Agent, first.Agent)
	}

	// Releasing twice is fine.
	if err := table.Release(workflow.FamilyApp, first); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if err := table.Release(workflow.FamilyApp, nil); err != nil {
		t.Errorf("Release(nil) error = %v", err)
	}
}

func TestReserveExhaustion(t *testing.T) {
	table := newTestPortTable(t)

	for i := 0; i < slotsPerRange; i++ {
		if _, err := table.Reserve(workflow.FamilyInfra, "infra-00000000"); err != nil {
			t.Fatalf("Reserve() #%d error = %v", i, err)
		}
	}

	_, err := table.Reserve(workflow.FamilyInfra, "infra-ffffffff")
	if !errors.Is(err, ErrNoFreeSlot) {
		t.Errorf("Reserve() on full range error = %v, want ErrNoFreeSlot", err)
	}

	count, err := table.ReservedCount(workflow.FamilyInfra)
	if err != nil {
		t.Fatalf("ReservedCount() error = %v", err)
	}
	if count != slotsPerRange {
		t.Errorf("ReservedCount() = %d, want %d", count, slotsPerRange)
	}
}

func TestReleaseOutOfRange(t *testing.T) {
	table := newTestPortTable(t)

	err := table.Release(workflow.FamilyApp, &instance.PortPair{Agent: 9999, Preview: 10000})
	if err == nil {
		t.Error("Release() with out-of-range port succeeded")
	}
}

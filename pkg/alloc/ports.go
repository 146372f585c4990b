package alloc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/workflow"
)

// Per-family port ranges are disjoint so concurrently running instances of
// either family never collide on network ports. A slot is a consecutive
// pair (base, base+1).
const (
	appPortBase   = 8100
	infraPortBase = 8300
	slotsPerRange = 50
	portsPerSlot  = 2
)

// ErrNoFreeSlot is returned when a family's port range is exhausted.
var ErrNoFreeSlot = errors.New("no free port slot")

// PortTable reserves port slots via exclusive-create lease files, one file
// per reserved slot. The O_EXCL create is the atomic reserve operation, so
// two processes scanning at once cannot claim the same slot.
type PortTable struct {
	dir string
}

// NewPortTable creates a port table rooted at dir.
func NewPortTable(dir string) (*PortTable, error) {
	if dir == "" {
		return nil, errors.New("port lease dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create port lease dir %s: %w", dir, err)
	}
	return &PortTable{dir: dir}, nil
}

// Reserve claims the first free slot in the family's range and records the
// owning instance id in the lease file.
func (t *PortTable) Reserve(family workflow.Family, instanceID string) (*instance.PortPair, error) {
	base, err := portBase(family)
	if err != nil {
		return nil, err
	}

	familyDir := filepath.Join(t.dir, string(family))
	if err := os.MkdirAll(familyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create port lease dir %s: %w", familyDir, err)
	}

	for slot := 0; slot < slotsPerRange; slot++ {
		leasePath := t.leasePath(family, slot)
		f, err := os.OpenFile(leasePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("create lease %s: %w", leasePath, err)
		}
		if _, err := f.WriteString(instanceID + "\n"); err != nil {
			_ = f.Close()
			_ = os.Remove(leasePath)
			return nil, fmt.Errorf("write lease %s: %w", leasePath, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(leasePath)
			return nil, fmt.Errorf("close lease %s: %w", leasePath, err)
		}

		agent := base + slot*portsPerSlot
		return &instance.PortPair{Agent: agent, Preview: agent + 1}, nil
	}

	return nil, fmt.Errorf("%w for family %s", ErrNoFreeSlot, family)
}

// Release frees the slot holding the given port pair. Releasing an already
// free slot is not an error.
func (t *PortTable) Release(family workflow.Family, ports *instance.PortPair) error {
	if ports == nil {
		return nil
	}
	base, err := portBase(family)
	if err != nil {
		return err
	}
	slot := (ports.Agent - base) / portsPerSlot
	if slot < 0 || slot >= slotsPerRange {
		return fmt.Errorf("port %d is outside the %s range", ports.Agent, family)
	}

	leasePath := t.leasePath(family, slot)
	if err := os.Remove(leasePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lease %s: %w", leasePath, err)
	}
	return nil
}

// Owner returns the instance id holding a slot, or empty when free.
func (t *PortTable) Owner(family workflow.Family, slot int) (string, error) {
	data, err := os.ReadFile(t.leasePath(family, slot))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ReservedCount returns the number of leased slots for a family.
func (t *PortTable) ReservedCount(family workflow.Family) (int, error) {
	entries, err := os.ReadDir(filepath.Join(t.dir, string(family)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".lease" {
			count++
		}
	}
	return count, nil
}

func (t *PortTable) leasePath(family workflow.Family, slot int) string {
	return filepath.Join(t.dir, string(family), fmt.Sprintf("slot-%02d.lease", slot))
}

func portBase(family workflow.Family) (int, error) {
	switch family {
	case workflow.FamilyApp:
		return appPortBase, nil
	case workflow.FamilyInfra:
		return infraPortBase, nil
	}
	return 0, fmt.Errorf("unknown family %q", family)
}

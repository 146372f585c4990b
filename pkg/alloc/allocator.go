package alloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/workflow"
)

// Allocation is the isolated resource set reserved for one new instance.
type Allocation struct {
	InstanceID   string
	WorktreePath string
	BranchName   string
	Ports        *instance.PortPair
}

// Allocator is the single allocation service for worktrees and port slots.
// Reserve and Release are guarded by one lock, and port slots additionally
// use exclusive-create lease files, so rapid concurrent instance creation
// cannot hand out overlapping resources.
type Allocator struct {
	logger     zerolog.Logger
	mu         sync.Mutex
	ports      *PortTable
	trees      *WorktreeManager
	baseBranch string
}

// NewAllocator creates the allocation service.
func NewAllocator(logger zerolog.Logger, ports *PortTable, trees *WorktreeManager, baseBranch string) *Allocator {
	return &Allocator{
		logger:     logger.With().Str("component", "allocator").Logger(),
		ports:      ports,
		trees:      trees,
		baseBranch: baseBranch,
	}
}

// BranchName returns the deterministic branch for an instance: family,
// instance id, and a slug from the triggering issue title.
func BranchName(family workflow.Family, instanceID, issueTitle string) string {
	slug := Slugify(issueTitle)
	if slug == "" {
		return fmt.Sprintf("%s/%s", family, instanceID)
	}
	return fmt.Sprintf("%s/%s-%s", family, instanceID, slug)
}

// Reserve allocates a worktree, branch, and port pair for a new instance.
// On any failure everything already reserved is rolled back.
func (a *Allocator) Reserve(_ context.Context, family workflow.Family, instanceID, issueTitle string) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ports, err := a.ports.Reserve(family, instanceID)
	if err != nil {
		return nil, fmt.Errorf("reserve ports for %s: %w", instanceID, err)
	}

	branch := BranchName(family, instanceID, issueTitle)
	path, err := a.trees.Create(instanceID, branch, a.baseBranch)
	if err != nil {
		if relErr := a.ports.Release(family, ports); relErr != nil {
			a.logger.Warn().Err(relErr).Str("instance_id", instanceID).Msg("Failed to roll back port lease")
		}
		return nil, fmt.Errorf("create worktree for %s: %w", instanceID, err)
	}

	a.logger.Info().
		Str("instance_id", instanceID).
		Str("worktree", path).
		Str("branch", branch).
		Int("agent_port", ports.Agent).
		Msg("Resources reserved")

	return &Allocation{
		InstanceID:   instanceID,
		WorktreePath: path,
		BranchName:   branch,
		Ports:        ports,
	}, nil
}

// Release frees an archived instance's worktree and port slot. The state
// document itself persists; only resources are released.
func (a *Allocator) Release(_ context.Context, inst *instance.Instance) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.trees.Remove(inst.InstanceID); err != nil {
		return fmt.Errorf("release worktree for %s: %w", inst.InstanceID, err)
	}
	if err := a.ports.Release(inst.Family, inst.Ports); err != nil {
		return fmt.Errorf("release ports for %s: %w", inst.InstanceID, err)
	}

	a.logger.Info().Str("instance_id", inst.InstanceID).Msg("Resources released")
	return nil
}

// ReservedSlots reports the number of leased port slots for a family.
func (a *Allocator) ReservedSlots(family workflow.Family) (int, error) {
	return a.ports.ReservedCount(family)
}

package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/issueops/dispatchd/pkg/workflow"
)

// ErrNotFound is returned when no document exists for an instance id.
var ErrNotFound = errors.New("instance not found")

// ErrExists is returned when creating an instance whose id is already taken.
var ErrExists = errors.New("instance already exists")

const (
	stateDirMode  = 0o755
	stateFileMode = 0o644
)

// Store persists one JSON document per instance under a family-namespaced
// directory. Writes are atomic: the full new document is written to a
// temporary file and renamed over the previous one, so a reader never
// observes a partially written document even if the writer crashes.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir, creating it when needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, stateDirMode); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", abs, err)
	}
	return &Store{dir: abs}, nil
}

// Path returns the document path for an instance id.
func (s *Store) Path(instanceID string) (string, error) {
	family, err := FamilyOf(instanceID)
	if err != nil {
		return "", err
	}
	if !family.IDPattern().MatchString(instanceID) {
		return "", fmt.Errorf("malformed instance id %q", instanceID)
	}
	return filepath.Join(s.dir, string(family), instanceID+".json"), nil
}

// Create writes a brand-new instance document. The id must not already be
// taken by any document, archived or not.
func (s *Store) Create(_ context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.Path(inst.InstanceID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, inst.InstanceID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	return s.write(path, inst)
}

// Load reads an instance document by id.
func (s *Store) Load(_ context.Context, instanceID string) (*Instance, error) {
	path, err := s.Path(instanceID)
	if err != nil {
		return nil, err
	}
	return s.read(path, instanceID)
}

// Exists reports whether a non-archived instance document exists for the id.
func (s *Store) Exists(ctx context.Context, instanceID string) (bool, error) {
	inst, err := s.Load(ctx, instanceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !inst.Archived, nil
}

// Append is the only public mutator: it merges attrs into the document,
// appends phase to the phase history, refreshes updated_at, and performs
// the atomic write. The phase history never shrinks or reorders.
func (s *Store) Append(_ context.Context, instanceID, phase string, attrs Attrs) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.Path(instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := s.read(path, instanceID)
	if err != nil {
		return nil, err
	}

	inst.merge(attrs)
	inst.PhaseHistory = append(inst.PhaseHistory, phase)
	inst.UpdatedAt = time.Now().UTC()

	if err := s.write(path, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Archive marks the instance archived, keeping the document queryable.
// Resource release (worktree, port slot) is the allocator's job.
func (s *Store) Archive(_ context.Context, instanceID string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.Path(instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := s.read(path, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Archived {
		return inst, nil
	}

	inst.Archived = true
	inst.UpdatedAt = time.Now().UTC()

	if err := s.write(path, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// List returns all instance documents for a family, archived included.
func (s *Store) List(_ context.Context, family workflow.Family) ([]*Instance, error) {
	dir := filepath.Join(s.dir, string(family))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state dir %s: %w", dir, err)
	}

	var instances []*Instance
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		inst, err := s.read(filepath.Join(dir, entry.Name()), id)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// ActiveCount returns the number of non-archived instances for a family.
func (s *Store) ActiveCount(ctx context.Context, family workflow.Family) (int, error) {
	instances, err := s.List(ctx, family)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, inst := range instances {
		if !inst.Archived {
			count++
		}
	}
	return count, nil
}

func (s *Store) read(path, instanceID string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
		}
		return nil, fmt.Errorf("read instance %s: %w", instanceID, err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", instanceID, err)
	}
	return &inst, nil
}

// write performs the atomic temp-file-and-rename protocol.
func (s *Store) write(path string, inst *Instance) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, stateDirMode); err != nil {
		return fmt.Errorf("create instance dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.InstanceID, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, inst.InstanceID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, stateFileMode); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s over %s: %w", tmpPath, path, err)
	}
	return nil
}

// merge applies non-zero attrs onto the document.
func (inst *Instance) merge(attrs Attrs) {
	if attrs.IssueNumber != 0 {
		inst.IssueNumber = attrs.IssueNumber
	}
	if attrs.BranchName != "" {
		inst.BranchName = attrs.BranchName
	}
	if attrs.SpecFilePath != "" {
		inst.SpecFilePath = attrs.SpecFilePath
	}
	if attrs.Environment != "" {
		inst.Environment = attrs.Environment
	}
	if attrs.ModelSet != "" {
		inst.ModelSet = attrs.ModelSet
	}
	if attrs.WorktreePath != "" {
		inst.WorktreePath = attrs.WorktreePath
	}
	if attrs.Ports != nil {
		inst.Ports = attrs.Ports
	}
}

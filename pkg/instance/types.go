package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/issueops/dispatchd/pkg/workflow"
)

// Instance is the durable document for one logical run of the phased
// pipeline, keyed by its instance id.
type Instance struct {
	// InstanceID is the opaque family-prefixed token identifying this
	// instance, unique among active instances.
	InstanceID string `json:"instance_id"`

	// Family fixes which phase catalog, bot marker, and state namespace apply.
	Family workflow.Family `json:"family"`

	// PhaseHistory is the ordered, append-only list of phases executed
	// against this instance.
	PhaseHistory []string `json:"phase_history"`

	// IssueNumber is the GitHub issue that created the instance.
	IssueNumber int `json:"issue_number"`

	// BranchName is the instance's deterministic git branch.
	BranchName string `json:"branch_name,omitempty"`

	// SpecFilePath points to the instance's specification file, if any.
	SpecFilePath string `json:"spec_file_path,omitempty"`

	// Environment is the target environment (infra family only).
	Environment string `json:"environment,omitempty"`

	// ModelSet is the model override in effect, if any.
	ModelSet string `json:"model_set,omitempty"`

	// WorktreePath is the instance's isolated working directory. It is a
	// 1:1 function of the instance id.
	WorktreePath string `json:"worktree_path,omitempty"`

	// Ports is the reserved port pair, disjoint across active instances.
	Ports *PortPair `json:"port_allocation,omitempty"`

	// CreatedAt is when the instance document was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed by every mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// Archived instances keep their document but release their resources.
	Archived bool `json:"archived"`
}

// PortPair is a reserved pair of consecutive ports for one instance.
type PortPair struct {
	// Agent is the port the phase agent listens on.
	Agent int `json:"agent"`

	// Preview is the port for the instance's preview server.
	Preview int `json:"preview"`
}

// Attrs holds optional attributes merged into the document by Append.
// Zero-valued fields are left untouched.
type Attrs struct {
	IssueNumber  int
	BranchName   string
	SpecFilePath string
	Environment  string
	ModelSet     string
	WorktreePath string
	Ports        *PortPair
}

// NewID generates a fresh instance id for a family: the family prefix plus
// the first 8 hex characters of a random UUID.
func NewID(family workflow.Family) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", family, suffix)
}

// FamilyOf extracts the family prefix from an instance id.
func FamilyOf(instanceID string) (workflow.Family, error) {
	prefix, _, ok := strings.Cut(instanceID, "-")
	if !ok {
		return "", fmt.Errorf("malformed instance id %q", instanceID)
	}
	switch workflow.Family(prefix) {
	case workflow.FamilyApp:
		return workflow.FamilyApp, nil
	case workflow.FamilyInfra:
		return workflow.FamilyInfra, nil
	}
	return "", fmt.Errorf("unknown family prefix in instance id %q", instanceID)
}

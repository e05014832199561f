package identity

import (
	"encoding/json"
	"os"

	"github.com/benmeehan/debloat-agent/pkg/file"
	"github.com/google/uuid"
)

// Identity holds the agent's unique identifier and other metadata.
type Identity struct {
	ID       string          `json:"agent_id,omitempty"`
	Name     string          `json:"agent_name,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// AgentInfoInterface defines methods for managing the agent identity.
type AgentInfoInterface interface {
	LoadAgentInfo() error
	EnsureAgentID() (string, error)
	GetAgentID() string
	GetAgentIdentity() *Identity
}

// AgentInfo manages the agent identity and its associated file operations.
type AgentInfo struct {
	AgentInfoFile string
	Identity      Identity
	fileOps       file.FileOperations
}

// NewAgentInfo initializes a new AgentInfo instance.
func NewAgentInfo(filePath string, fileOps file.FileOperations) AgentInfoInterface {
	return &AgentInfo{
		AgentInfoFile: filePath,
		fileOps:       fileOps,
		Identity:      Identity{},
	}
}

// LoadAgentInfo reads the identity file. A missing file leaves an empty identity.
func (a *AgentInfo) LoadAgentInfo() error {
	err := a.fileOps.ReadJsonFile(a.AgentInfoFile, &a.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			a.Identity = Identity{}
			return nil
		}
		return err
	}
	return nil
}

// EnsureAgentID returns the stored id, generating and persisting a new one
// on first run.
func (a *AgentInfo) EnsureAgentID() (string, error) {
	if a.Identity.ID != "" {
		return a.Identity.ID, nil
	}
	a.Identity.ID = uuid.NewString()
	if hostname, err := os.Hostname(); err == nil && a.Identity.Name == "" {
		a.Identity.Name = hostname
	}
	if err := a.fileOps.WriteJsonFile(a.AgentInfoFile, a.Identity); err != nil {
		return "", err
	}
	return a.Identity.ID, nil
}

// GetAgentIdentity returns the current Identity.
func (a *AgentInfo) GetAgentIdentity() *Identity {
	return &a.Identity
}

// GetAgentID returns the current agent ID.
func (a *AgentInfo) GetAgentID() string {
	return a.Identity.ID
}

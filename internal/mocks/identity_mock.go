package mocks

import (
	"github.com/benmeehan/debloat-agent/pkg/identity"
	"github.com/stretchr/testify/mock"
)

// MockAgentInfo is a mock implementation of the identity.AgentInfoInterface
type MockAgentInfo struct {
	mock.Mock
}

func (m *MockAgentInfo) LoadAgentInfo() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAgentInfo) EnsureAgentID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockAgentInfo) GetAgentID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAgentInfo) GetAgentIdentity() *identity.Identity {
	args := m.Called()
	id, _ := args.Get(0).(*identity.Identity)
	return id
}

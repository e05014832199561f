package state_managers

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/benmeehan/debloat-agent/pkg/file"
	"github.com/rs/zerolog"
)

// OperationStateManager persists in-flight device operations, keyed by
// execution id, so a restore interrupted by a crash can be reported later.
type OperationStateManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger
	now        func() time.Time
	mu         sync.Mutex
}

// NewOperationStateManager initializes a new OperationStateManager
func NewOperationStateManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *OperationStateManager {
	return &OperationStateManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
		now:        time.Now,
	}
}

// LoadState reads the operation states from the file
func (sm *OperationStateManager) LoadState() (map[string]models.OperationState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.load()
}

func (sm *OperationStateManager) load() (map[string]models.OperationState, error) {
	states := make(map[string]models.OperationState)
	if err := sm.fileClient.ReadJsonFile(sm.filePath, &states); err != nil {
		if os.IsNotExist(err) {
			return make(map[string]models.OperationState), nil
		}
		sm.logger.Error().Err(err).Msg("Failed to read state file")
		return nil, err
	}
	return states, nil
}

// SaveState writes the operation states to the file
func (sm *OperationStateManager) SaveState(states map[string]models.OperationState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.save(states)
}

func (sm *OperationStateManager) save(states map[string]models.OperationState) error {
	if err := sm.fileClient.WriteJsonFile(sm.filePath, states); err != nil {
		sm.logger.Error().Err(err).Msg("Failed to write state file")
		return err
	}
	return nil
}

// UpdateOperationState updates or adds an operation, removing it once it
// has finished (success or failed).
func (sm *OperationStateManager) UpdateOperationState(state models.OperationState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	states, err := sm.load()
	if err != nil {
		return err
	}

	if state.Status == constants.OperationStatusSuccess || state.Status == constants.OperationStatusFailed {
		delete(states, state.ExecutionID)
	} else {
		state.UpdatedAt = sm.now().UTC()
		states[state.ExecutionID] = state
	}
	return sm.save(states)
}

// Interrupted returns operations that were still running when the agent last
// stopped, oldest first.
func (sm *OperationStateManager) Interrupted() ([]models.OperationState, error) {
	states, err := sm.LoadState()
	if err != nil {
		return nil, err
	}
	out := make([]models.OperationState, 0, len(states))
	for _, s := range states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Clear forgets every recorded operation.
func (sm *OperationStateManager) Clear() error {
	return sm.SaveState(map[string]models.OperationState{})
}

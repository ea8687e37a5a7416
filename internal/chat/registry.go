package chat

import (
	"sync"

	"parley/api/internal/contract"
)

// Registry hands out one workspace per consultation. Workspaces are created
// lazily on first access and live for the life of the process.
type Registry struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	consultant Consultant
	contractor Contractor
}

func NewRegistry(consultant Consultant, contractor Contractor) *Registry {
	return &Registry{
		workspaces: make(map[string]*Workspace),
		consultant: consultant,
		contractor: contractor,
	}
}

// Workspace returns the workspace for the consultation, creating it with the
// given details if none exists yet. Details only seed a new workspace;
// an existing one keeps its own state.
func (r *Registry) Workspace(details contract.Details) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.workspaces[details.ID]; ok {
		return ws
	}
	ws := NewWorkspace(details, r.consultant, r.contractor)
	r.workspaces[details.ID] = ws
	return ws
}

// Drop removes a consultation's workspace, if any. Used when the
// consultation itself is deleted.
func (r *Registry) Drop(consultationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workspaces, consultationID)
}

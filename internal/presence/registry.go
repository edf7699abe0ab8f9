// Package presence tracks which participant is bound to which live connection.
package presence

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aura-classroom/backend/internal/models"
)

// Registry maps connection ids to participants. At most one connection per participant id.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*models.Participant // connectionID -> participant
	byID   map[string]string              // participantID -> connectionID
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*models.Participant),
		byID:   make(map[string]string),
		now:    time.Now,
	}
}

// JoinResult is returned by Join.
type JoinResult struct {
	Participant models.Participant
	// Evicted is the prior participant record for the same id on another connection, if any.
	// The caller must force-disconnect Evicted.ConnectionID.
	Evicted *models.Participant
}

// Join binds identity to connectionID. A live connection already holding identity.ID is
// removed from the registry and reported in JoinResult.Evicted.
func (r *Registry) Join(connectionID string, identity models.Identity) (JoinResult, error) {
	identity.ID = strings.TrimSpace(identity.ID)
	identity.DisplayName = strings.TrimSpace(identity.DisplayName)
	if err := validate(connectionID, identity); err != nil {
		return JoinResult{}, err
	}
	if identity.Kind == "" {
		identity.Kind = models.IdentityEphemeral
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var res JoinResult
	if oldConn, ok := r.byID[identity.ID]; ok && oldConn != connectionID {
		if old, ok := r.byConn[oldConn]; ok {
			evicted := *old
			res.Evicted = &evicted
		}
		delete(r.byConn, oldConn)
	}
	// A connection re-joining under a different id drops its previous binding.
	if prev, ok := r.byConn[connectionID]; ok && prev.ID != identity.ID {
		delete(r.byID, prev.ID)
	}

	p := &models.Participant{
		ID:           identity.ID,
		DisplayName:  identity.DisplayName,
		Role:         identity.Role,
		Kind:         identity.Kind,
		ConnectionID: connectionID,
		JoinedAt:     r.now(),
	}
	r.byConn[connectionID] = p
	r.byID[identity.ID] = connectionID
	res.Participant = *p
	return res, nil
}

func validate(connectionID string, id models.Identity) error {
	switch {
	case connectionID == "":
		return fmt.Errorf("%w: missing connection id", models.ErrValidation)
	case id.ID == "":
		return fmt.Errorf("%w: id is required", models.ErrValidation)
	case id.DisplayName == "":
		return fmt.Errorf("%w: displayName is required", models.ErrValidation)
	case !id.Role.Valid():
		return fmt.Errorf("%w: role must be teacher or student", models.ErrValidation)
	}
	return nil
}

// Leave removes the connection's participant. Idempotent.
func (r *Registry) Leave(connectionID string) (models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byConn[connectionID]
	if !ok {
		return models.Participant{}, false
	}
	delete(r.byConn, connectionID)
	if r.byID[p.ID] == connectionID {
		delete(r.byID, p.ID)
	}
	return *p, true
}

// Find returns the participant bound to connectionID.
func (r *Registry) Find(connectionID string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byConn[connectionID]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// FindByParticipantID returns the live participant with the given id.
func (r *Registry) FindByParticipantID(id string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	if !ok {
		return models.Participant{}, false
	}
	p, ok := r.byConn[conn]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// Filter narrows List.
type Filter struct {
	ExcludeEphemeral bool
	Role             models.Role // empty means any
}

// List returns live participants ordered by join time.
func (r *Registry) List(f Filter) []models.Participant {
	r.mu.RLock()
	out := make([]models.Participant, 0, len(r.byConn))
	for _, p := range r.byConn {
		if f.ExcludeEphemeral && p.IsEphemeral() {
			continue
		}
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		out = append(out, *p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Count returns the number of live participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

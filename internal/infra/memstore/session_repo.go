// Package memstore is the dependency-free reference implementation of the
// session store: a mutex-guarded map honoring the same version-CAS contract
// as the Postgres repository. Suitable for tests and single-process
// deployments without durability needs.
package memstore

import (
	"context"
	"sync"
	"time"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
	"marketplace-bargain/internal/domain/ports/repository"
)

// Compile-time check
var _ repository.SessionRepository = (*SessionRepo)(nil)

type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*model.NegotiationSession
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]*model.NegotiationSession)}
}

func (r *SessionRepo) Create(ctx context.Context, _ any, s *model.NegotiationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range r.sessions {
		if existing.BuyerID == s.BuyerID && existing.Product.ProductID == s.Product.ProductID &&
			existing.Status == model.SessionActive {
			return domain.ErrDuplicateActiveSession
		}
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *SessionRepo) FindByID(ctx context.Context, _ any, id string) (*model.NegotiationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepo) CompareAndSwap(ctx context.Context, _ any, expectedVersion int64, s *model.NegotiationSession, newMessage *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	// Write scalar state and append the new message; never replace the
	// stored log wholesale. Text posts share a version, so the caller's
	// snapshot may lack texts landed since its read and a full overwrite
	// would drop them (the Postgres store appends rows the same way).
	stored.Status = s.Status
	if s.CurrentOffer != nil {
		v := *s.CurrentOffer
		stored.CurrentOffer = &v
	} else {
		stored.CurrentOffer = nil
	}
	if s.FinalPrice != nil {
		v := *s.FinalPrice
		stored.FinalPrice = &v
	} else {
		stored.FinalPrice = nil
	}
	stored.Version = s.Version
	stored.LastActivity = s.LastActivity
	stored.UpdatedAt = s.UpdatedAt
	if newMessage != nil {
		stored.Messages = append(stored.Messages, *newMessage)
	}
	return nil
}

func (r *SessionRepo) FindActiveByBuyerAndProduct(ctx context.Context, _ any, buyerID, productID string) (*model.NegotiationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.BuyerID == buyerID && s.Product.ProductID == productID && s.Status == model.SessionActive {
			return s.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *SessionRepo) FindAllByParty(ctx context.Context, _ any, partyID string, roleFilter model.PartyRole) ([]*model.NegotiationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.NegotiationSession
	for _, s := range r.sessions {
		role := s.RoleOf(partyID)
		if role == "" {
			continue
		}
		if roleFilter != "" && role != roleFilter {
			continue
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

func (r *SessionRepo) FindActiveIdleBefore(ctx context.Context, _ any, cutoff time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, s := range r.sessions {
		if s.Status == model.SessionActive && s.LastActivity.Before(cutoff) {
			ids = append(ids, s.ID)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (r *SessionRepo) MarkMessagesRead(ctx context.Context, _ any, sessionID string, senderRole model.PartyRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range s.Messages {
		if s.Messages[i].SenderRole == senderRole {
			s.Messages[i].IsRead = true
		}
	}
	return nil
}

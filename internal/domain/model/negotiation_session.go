package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionAccepted SessionStatus = "accepted"
	SessionRejected SessionStatus = "rejected"
	SessionClosed   SessionStatus = "closed"
)

// Terminal reports whether no further mutating messages are accepted.
func (s SessionStatus) Terminal() bool { return s != SessionActive }

type PartyRole string

const (
	RoleBuyer  PartyRole = "buyer"
	RoleSeller PartyRole = "seller"
)

type MessageKind string

const (
	KindText         MessageKind = "text"
	KindPriceOffer   MessageKind = "price_offer"
	KindCounterOffer MessageKind = "counter_offer"
	KindAcceptOffer  MessageKind = "accept_offer"
	KindRejectOffer  MessageKind = "reject_offer"
)

// Mutating reports whether the kind can change session state and is
// therefore barred once the session is terminal.
func (k MessageKind) Mutating() bool { return k != KindText }

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindPriceOffer, KindCounterOffer, KindAcceptOffer, KindRejectOffer:
		return true
	}
	return false
}

// Message is one entry in a session's append-only log. SenderRole is
// derived server-side from the session's parties, never trusted from input.
type Message struct {
	ID         string
	SessionID  string
	SenderID   string
	SenderRole PartyRole
	Kind       MessageKind
	PriceOffer *int64 // minor units; nil for text
	Body       string
	IsRead     bool
	Timestamp  time.Time
}

// NewMessageID returns a ULID: time-ordered, so log order and id order agree.
func NewMessageID() string { return ulid.Make().String() }

// NegotiationSession is the aggregate root of one buyer-seller bargain over
// one product. Mutable fields change only through the negotiation engine
// and are persisted under the store's version CAS discipline.
type NegotiationSession struct {
	ID           string
	Product      ProductSnapshot
	BuyerID      string
	SellerID     string
	Status       SessionStatus
	InitialOffer int64
	CurrentOffer *int64
	FinalPrice   *int64
	Version      int64
	Messages     []Message
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewNegotiationSession constructs an empty active session. The opening
// price_offer is appended by the engine so a session's full history replays
// through one code path.
func NewNegotiationSession(id string, product ProductSnapshot, buyerID, sellerID string, initialOffer int64) *NegotiationSession {
	now := time.Now()
	return &NegotiationSession{
		ID:           id,
		Product:      product,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		Status:       SessionActive,
		InitialOffer: initialOffer,
		Messages:     make([]Message, 0, 8),
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RoleOf resolves a party ref to its role, or "" for a non-party.
func (s *NegotiationSession) RoleOf(partyID string) PartyRole {
	switch partyID {
	case s.BuyerID:
		return RoleBuyer
	case s.SellerID:
		return RoleSeller
	}
	return ""
}

func (s *NegotiationSession) IsParty(partyID string) bool { return s.RoleOf(partyID) != "" }

// Clone deep-copies the session so the engine can compute a proposed next
// state without touching the caller's snapshot.
func (s *NegotiationSession) Clone() *NegotiationSession {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	if s.CurrentOffer != nil {
		v := *s.CurrentOffer
		cp.CurrentOffer = &v
	}
	if s.FinalPrice != nil {
		v := *s.FinalPrice
		cp.FinalPrice = &v
	}
	return &cp
}

// UnreadCountFor counts counterpart messages the given party has not read.
func (s *NegotiationSession) UnreadCountFor(partyID string) int {
	role := s.RoleOf(partyID)
	if role == "" {
		return 0
	}
	n := 0
	for i := range s.Messages {
		if s.Messages[i].SenderRole != role && !s.Messages[i].IsRead {
			n++
		}
	}
	return n
}

// SessionSummary is the dashboard projection returned by list endpoints.
type SessionSummary struct {
	ID           string
	Product      ProductSnapshot
	Role         PartyRole
	Status       SessionStatus
	CurrentOffer *int64
	FinalPrice   *int64
	UnreadCount  int
	LastActivity time.Time
}

// Summarize projects the session for the given party's dashboard.
func (s *NegotiationSession) Summarize(partyID string) SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Product:      s.Product,
		Role:         s.RoleOf(partyID),
		Status:       s.Status,
		CurrentOffer: s.CurrentOffer,
		FinalPrice:   s.FinalPrice,
		UnreadCount:  s.UnreadCountFor(partyID),
		LastActivity: s.LastActivity,
	}
}

// Package negotiation holds the pure bargain state machine. Transition and
// Close compute proposed next states on a snapshot the caller owns; all
// persistence, fanout, and cart side effects belong to the coordinator.
package negotiation

import (
	"strings"
	"time"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
)

// Inbound is a proposed message before validation. SenderRole is absent on
// purpose: the engine derives it from the session's parties.
type Inbound struct {
	SenderID string
	Kind     model.MessageKind
	Price    *int64 // minor units; required for offers, echo for accept
	Body     string
}

// Transition validates in against s and, on success, mutates s in place
// (append message, update offer/status/version/lastActivity) returning the
// appended message. Callers pass a Clone of the authoritative snapshot so a
// rejected transition leaves no trace.
//
// Policy decisions baked in here:
//   - text is allowed in any state, terminal included, and never bumps the
//     version;
//   - a party may revise its own outstanding offer (consecutive offers from
//     the same sender are legal);
//   - accept_offer must echo the current offer exactly; reject_offer may
//     omit the price but a stale price is still rejected.
func Transition(s *model.NegotiationSession, in Inbound) (*model.Message, error) {
	role := s.RoleOf(in.SenderID)
	if role == "" {
		return nil, domain.ErrUnauthorized
	}
	if !in.Kind.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if in.Kind.Mutating() && s.Status.Terminal() {
		return nil, domain.ErrSessionTerminal
	}

	switch in.Kind {
	case model.KindText:
		if strings.TrimSpace(in.Body) == "" {
			return nil, domain.ErrInvalidArgument
		}

	case model.KindPriceOffer, model.KindCounterOffer:
		if in.Price == nil || *in.Price <= 0 {
			return nil, domain.ErrInvalidOffer
		}
		v := *in.Price
		s.CurrentOffer = &v
		s.Version++

	case model.KindAcceptOffer:
		if s.CurrentOffer == nil {
			return nil, domain.ErrInvalidOffer
		}
		if in.Price == nil || *in.Price != *s.CurrentOffer {
			return nil, domain.ErrInvalidOffer
		}
		v := *s.CurrentOffer
		s.FinalPrice = &v
		s.Status = model.SessionAccepted
		s.Version++

	case model.KindRejectOffer:
		if in.Price != nil && (s.CurrentOffer == nil || *in.Price != *s.CurrentOffer) {
			return nil, domain.ErrInvalidOffer
		}
		s.Status = model.SessionRejected
		s.Version++
	}

	msg := model.Message{
		ID:         model.NewMessageID(),
		SessionID:  s.ID,
		SenderID:   in.SenderID,
		SenderRole: role,
		Kind:       in.Kind,
		Body:       in.Body,
		Timestamp:  stamp(s),
	}
	// Offers carry their amount; accept/reject carry the echoed amount so a
	// log replay is self-contained.
	if in.Price != nil && in.Kind != model.KindText {
		v := *in.Price
		msg.PriceOffer = &v
	}
	s.Messages = append(s.Messages, msg)
	s.LastActivity = msg.Timestamp
	s.UpdatedAt = msg.Timestamp
	return &s.Messages[len(s.Messages)-1], nil
}

// Close is the administrative terminal transition: party withdrawal or the
// idle sweeper. It appends no message.
func Close(s *model.NegotiationSession) error {
	if s.Status.Terminal() {
		return domain.ErrSessionTerminal
	}
	s.Status = model.SessionClosed
	s.Version++
	now := time.Now()
	s.LastActivity = now
	s.UpdatedAt = now
	return nil
}

// stamp keeps timestamps monotonic within a session even if the wall clock
// steps backwards between messages.
func stamp(s *model.NegotiationSession) time.Time {
	now := time.Now()
	if n := len(s.Messages); n > 0 && now.Before(s.Messages[n-1].Timestamp) {
		return s.Messages[n-1].Timestamp
	}
	return now
}

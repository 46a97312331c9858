package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
)

type openSessionRequest struct {
	ProductID    string `json:"product_id"`
	InitialOffer int64  `json:"initial_offer"`
	Note         string `json:"note,omitempty"`
}

type postMessageRequest struct {
	Kind       string `json:"kind"`
	PriceOffer *int64 `json:"price_offer,omitempty"`
	Body       string `json:"body,omitempty"`
}

type messageResponse struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Kind       string    `json:"kind"`
	PriceOffer *int64    `json:"price_offer,omitempty"`
	Body       string    `json:"body,omitempty"`
	IsRead     bool      `json:"is_read"`
	Timestamp  time.Time `json:"timestamp"`
}

type sessionResponse struct {
	ID           string            `json:"id"`
	ProductID    string            `json:"product_id"`
	ProductTitle string            `json:"product_title"`
	ListedPrice  int64             `json:"listed_price"`
	Currency     string            `json:"currency"`
	BuyerID      string            `json:"buyer_id"`
	SellerID     string            `json:"seller_id"`
	Status       string            `json:"status"`
	InitialOffer int64             `json:"initial_offer"`
	CurrentOffer *int64            `json:"current_offer,omitempty"`
	FinalPrice   *int64            `json:"final_price,omitempty"`
	Version      int64             `json:"version"`
	LastActivity time.Time         `json:"last_activity"`
	Messages     []messageResponse `json:"messages"`
}

func renderSession(s *model.NegotiationSession) sessionResponse {
	msgs := make([]messageResponse, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, messageResponse{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderRole: string(m.SenderRole),
			Kind:       string(m.Kind),
			PriceOffer: m.PriceOffer,
			Body:       m.Body,
			IsRead:     m.IsRead,
			Timestamp:  m.Timestamp,
		})
	}
	return sessionResponse{
		ID:           s.ID,
		ProductID:    s.Product.ProductID,
		ProductTitle: s.Product.Title,
		ListedPrice:  s.Product.ListedPrice,
		Currency:     s.Product.Currency,
		BuyerID:      s.BuyerID,
		SellerID:     s.SellerID,
		Status:       string(s.Status),
		InitialOffer: s.InitialOffer,
		CurrentOffer: s.CurrentOffer,
		FinalPrice:   s.FinalPrice,
		Version:      s.Version,
		LastActivity: s.LastActivity,
		Messages:     msgs,
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// errorResponse carries the machine-readable error plus, when the
// coordinator returned one, the authoritative session to reconcile against.
type errorResponse struct {
	Error   string           `json:"error"`
	Session *sessionResponse `json:"session,omitempty"`
}

// statusFor maps the domain taxonomy onto HTTP. Both ErrUnauthorized and
// ErrForbidden map to 403; ErrForbidden is deliberately also used for
// unknown ids on reads so session existence never leaks.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionTerminal),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrDuplicateActiveSession):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOffer), errors.Is(err, domain.ErrProductUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrDownstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error, fresh *model.NegotiationSession) {
	resp := errorResponse{Error: err.Error()}
	if fresh != nil {
		r := renderSession(fresh)
		resp.Session = &r
	}
	writeJSON(w, statusFor(err), resp)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := s.uc.OpenSession(r.Context(), req.ProductID, PartyID(r.Context()), req.InitialOffer, req.Note)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, renderSession(sess))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := s.uc.PostMessage(r.Context(), chi.URLParam(r, "id"), PartyID(r.Context()),
		model.MessageKind(req.Kind), req.PriceOffer, req.Body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, renderSession(sess))
	case errors.Is(err, domain.ErrDownstreamUnavailable):
		// The acceptance is durable; only the cart handoff is pending.
		writeJSON(w, http.StatusAccepted, struct {
			Warning string          `json:"warning"`
			Session sessionResponse `json:"session"`
		}{Warning: "accepted; cart handoff pending retry", Session: renderSession(sess)})
	default:
		writeDomainError(w, err, sess)
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.MarkRead(r.Context(), chi.URLParam(r, "id"), PartyID(r.Context())); err != nil {
		writeDomainError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uc.GetSession(r.Context(), chi.URLParam(r, "id"), PartyID(r.Context()))
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uc.CloseSession(r.Context(), chi.URLParam(r, "id"), PartyID(r.Context()))
	if err != nil {
		writeDomainError(w, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(sess))
}

type summaryResponse struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	ProductTitle string    `json:"product_title"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	CurrentOffer *int64    `json:"current_offer,omitempty"`
	FinalPrice   *int64    `json:"final_price,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	role := model.PartyRole(r.URL.Query().Get("role"))
	if role != "" && role != model.RoleBuyer && role != model.RoleSeller {
		http.Error(w, "role must be buyer or seller", http.StatusBadRequest)
		return
	}
	summaries, err := s.uc.ListSessions(r.Context(), PartyID(r.Context()), role)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, summaryResponse{
			ID:           sum.ID,
			ProductID:    sum.Product.ProductID,
			ProductTitle: sum.Product.Title,
			Role:         string(sum.Role),
			Status:       string(sum.Status),
			CurrentOffer: sum.CurrentOffer,
			FinalPrice:   sum.FinalPrice,
			UnreadCount:  sum.UnreadCount,
			LastActivity: sum.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Negotiation errors
	ErrUnauthorized           = errors.New("sender is not a party to this negotiation")
	ErrForbidden              = errors.New("requester may not read this negotiation")
	ErrSessionTerminal        = errors.New("negotiation already reached a terminal state")
	ErrInvalidOffer           = errors.New("offer amount is missing, non-positive, or stale")
	ErrVersionConflict        = errors.New("negotiation was modified concurrently")
	ErrProductUnavailable     = errors.New("product is not available for negotiation")
	ErrDuplicateActiveSession = errors.New("buyer already has an active negotiation for this product")
	ErrDownstreamUnavailable  = errors.New("downstream collaborator unavailable")
	ErrRateLimited            = errors.New("too many messages, slow down")
)

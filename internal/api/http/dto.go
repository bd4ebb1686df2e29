package http

import (
	"time"

	"library-reservation/internal/domain"
	"library-reservation/internal/usecase"
)

// CreateReservationRequest is the body of POST /reservations/.
type CreateReservationRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	BookID string `json:"book_id" validate:"required,uuid4"`
}

// UpdateReservationRequest is the body of PUT /reservations/update/.
type UpdateReservationRequest struct {
	OldBookID string `json:"old_book_id" validate:"required,uuid4"`
	UserID    string `json:"user_id" validate:"required,uuid4"`
	BookID    string `json:"book_id" validate:"required,uuid4"`
}

// ReservationResponse is a claim as the API exposes it.
type ReservationResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	BookID     string    `json:"book_id"`
	ReservedAt time.Time `json:"reserved_at"`
}

// BookResponse is a catalog entry nested in reservation details.
type BookResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	ImageURL string `json:"image_url"`
	Category string `json:"category"`
}

// ReservationDetailsResponse is the body of GET /api/reservations/{book_id}.
type ReservationDetailsResponse struct {
	ReservationResponse
	Book BookResponse `json:"book"`
}

// ReservationListResponse is the body of GET /api/reservations. A null
// next_paging_state means there are no more pages.
type ReservationListResponse struct {
	Reservations    []ReservationResponse `json:"reservations"`
	NextPagingState *string               `json:"next_paging_state"`
}

// DetailResponse carries a human readable message, for errors and acknowledgements.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// ValidationErrorResponse lists the fields that failed validation.
type ValidationErrorResponse struct {
	Detail  string   `json:"detail"`
	Details []string `json:"details"`
}

func toReservationResponse(c *domain.Claim) ReservationResponse {
	return ReservationResponse{
		ID:         c.ID,
		UserID:     c.HolderID,
		BookID:     c.ResourceKey,
		ReservedAt: c.ClaimedAt,
	}
}

func toDetailsResponse(d *domain.ClaimDetails) ReservationDetailsResponse {
	return ReservationDetailsResponse{
		ReservationResponse: toReservationResponse(&d.Claim),
		Book: BookResponse{
			ID:       d.Resource.ID,
			Title:    d.Resource.Title,
			Author:   d.Resource.Author,
			ImageURL: d.Resource.ImageURL,
			Category: d.Resource.Category,
		},
	}
}

func toListResponse(p *usecase.ReservationPage) ReservationListResponse {
	resp := ReservationListResponse{Reservations: make([]ReservationResponse, 0, len(p.Claims))}
	for _, c := range p.Claims {
		resp.Reservations = append(resp.Reservations, toReservationResponse(c))
	}
	if p.NextCursor != "" {
		next := p.NextCursor
		resp.NextPagingState = &next
	}
	return resp
}

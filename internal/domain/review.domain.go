package domain

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

// Review is one user's rating of a completed order.
type Review struct {
	ID        string    `json:"id"`
	OrderID   int64     `json:"order_id"`
	UserID    string    `json:"user_id"`
	PartnerID string    `json:"partner_id"`
	Rating    int       `json:"rating"`
	Comment   *string   `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmitReviewInput is what a caller may supply. The partner always comes
// from the order authority.
type SubmitReviewInput struct {
	OrderID int64
	UserID  string
	Rating  int
	Comment *string
}

func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// PartnerRating is the aggregate view of a partner's reviews within one tenant.
type PartnerRating struct {
	PartnerID string  `json:"partner_id"`
	AvgRating float64 `json:"avg_rating"`
	Count     int64   `json:"count"`
}

// NewPartnerRating normalises an aggregate row; an empty partner is always 0.0 / 0.
func NewPartnerRating(partnerID string, avg float64, count int64) PartnerRating {
	if count <= 0 {
		return PartnerRating{PartnerID: partnerID}
	}
	return PartnerRating{PartnerID: partnerID, AvgRating: avg, Count: count}
}

// RatingAggregate is the raw (average, count) pair produced by the store.
type RatingAggregate struct {
	Avg   float64
	Count int64
}

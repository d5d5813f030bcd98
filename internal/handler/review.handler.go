package handler

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"review-service/internal/domain"
	"review-service/internal/tenant"
	"review-service/pkg/response"
	"review-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = newValidator()

// newValidator reports fields by their json name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ReviewService is the pipeline the HTTP surface drives.
type ReviewService interface {
	SubmitReview(ctx context.Context, in domain.SubmitReviewInput, tenantKey string) (*domain.Review, error)
	ListPartnerReviews(ctx context.Context, partnerID, tenantKey string) ([]*domain.Review, error)
	GetPartnerRating(ctx context.Context, partnerID, tenantKey string) (domain.PartnerRating, error)
	GetPartnersRatings(ctx context.Context, partnerIDs []string, tenantKey string) (map[string]domain.PartnerRating, error)
	Health(ctx context.Context, tenantKey string) error
}

type ReviewHandler struct {
	svc    ReviewService
	logger *zap.Logger
}

func NewReviewHandler(svc ReviewService, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, logger: logger}
}

// ReviewCreateRequest is the POST /reviews body. Pointers distinguish a missing
// field from its zero value.
type ReviewCreateRequest struct {
	OrderID *int64  `json:"order_id" validate:"required"`
	UserID  string  `json:"user_id" validate:"required"`
	Rating  *int    `json:"rating" validate:"required,min=1,max=5"`
	Comment *string `json:"comment"`
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// ----------------- REVIEWS -----------------

// CreateReview handles POST /reviews.
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewCreateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.Error(w, r, http.StatusUnprocessableEntity, xerrors.Code(xerrors.ErrMalformedInput), "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Error(w, r, http.StatusUnprocessableEntity, xerrors.Code(xerrors.ErrMalformedInput), validationMessage(err))
		return
	}

	review, err := h.svc.SubmitReview(r.Context(), domain.SubmitReviewInput{
		OrderID: *req.OrderID,
		UserID:  req.UserID,
		Rating:  *req.Rating,
		Comment: req.Comment,
	}, tenant.FromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusCreated, review)
}

// ListPartnerReviews handles GET /partners/{partner_id}/reviews.
func (h *ReviewHandler) ListPartnerReviews(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partner_id")

	reviews, err := h.svc.ListPartnerReviews(r.Context(), partnerID, tenant.FromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, reviews)
}

// ----------------- RATINGS -----------------

func (h *ReviewHandler) GetPartnerRating(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partner_id")

	rating, err := h.svc.GetPartnerRating(r.Context(), partnerID, tenant.FromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, rating)
}

// GetPartnersRatings handles GET /partners/ratings?partner_ids=a,b,c.
func (h *ReviewHandler) GetPartnersRatings(w http.ResponseWriter, r *http.Request) {
	raw, ok := r.URL.Query()["partner_ids"]
	if !ok {
		response.Error(w, r, http.StatusUnprocessableEntity, xerrors.Code(xerrors.ErrMalformedInput), "partner_ids query parameter is required")
		return
	}

	ratings, err := h.svc.GetPartnersRatings(r.Context(), ParsePartnerIDs(strings.Join(raw, ",")), tenant.FromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, ratings)
}

// ParsePartnerIDs splits a comma-separated list, trimming whitespace and dropping empty entries.
func ParsePartnerIDs(raw string) []string {
	ids := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ----------------- HEALTH -----------------

func (h *ReviewHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context(), tenant.FromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, healthResponse{Status: "ok", DB: "ok"})
}

// ----------------- helpers -----------------

var statuses = []struct {
	kind   error
	status int
}{
	{xerrors.ErrMalformedInput, http.StatusUnprocessableEntity},
	{xerrors.ErrOrderServiceUnavailable, http.StatusBadGateway},
	{xerrors.ErrOrderNotFound, http.StatusNotFound},
	{xerrors.ErrForbidden, http.StatusForbidden},
	{xerrors.ErrInvalidOrderState, http.StatusBadRequest},
	{xerrors.ErrConflict, http.StatusConflict},
	{xerrors.ErrStorageUnavailable, http.StatusServiceUnavailable},
	{xerrors.ErrRateLimited, http.StatusTooManyRequests},
}

// StatusFor maps a rejection kind to its HTTP status; unknown errors are 500.
func StatusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.kind) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func (h *ReviewHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("tenant", tenant.FromContext(r.Context())),
			zap.Error(err))
		response.Error(w, r, status, xerrors.Code(err), "internal server error")
		return
	}
	response.Error(w, r, status, xerrors.Code(err), xerrors.Message(err))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed '"+fe.Tag()+"' validation")
	}
	return strings.Join(parts, "; ")
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"review-service/internal/domain"
	"review-service/internal/events"
	"review-service/internal/repository"
	"review-service/internal/tenant"
	"review-service/pkg/cache"
	"review-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	msgOrderServiceUnavailable = "Order service unavailable"
	msgOrderNotFound           = "Order not found"
	msgOrderNotOwned           = "Order does not belong to user"
	msgOrderNoPartner          = "Order has no partner_id set"
	msgOrderAlreadyReviewed    = "Order already reviewed"
	msgDatabaseUnavailable     = "Database unavailable"
	msgRatingOutOfRange        = "rating must be between 1 and 5"
	msgInvalidReviewData       = "Review data rejected by storage"
)

// Metrics
var (
	reviewSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_submissions_total",
			Help: "Review submissions by outcome",
		},
		[]string{"outcome"},
	)

	usecaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "review_usecase_duration_seconds",
			Help:    "Duration of review usecase operations",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"operation"},
	)
)

// OrderAuthority fetches an order scoped to a tenant. It returns (nil, nil)
// when no such order exists and an error for any transport failure.
type OrderAuthority interface {
	GetOrderByID(ctx context.Context, orderID int64, tenantKey string) (*domain.Order, error)
}

type ReviewUsecase struct {
	repo      repository.ReviewRepository
	orders    OrderAuthority
	cache     *cache.RatingCache
	publisher *events.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewReviewUsecase wires the pipeline. cache and publisher may be nil.
func NewReviewUsecase(
	repo repository.ReviewRepository,
	orders OrderAuthority,
	cache *cache.RatingCache,
	publisher *events.EventPublisher,
	logger *zap.Logger,
) *ReviewUsecase {
	return &ReviewUsecase{
		repo:      repo,
		orders:    orders,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ===============================
// Submission pipeline
// ===============================

// SubmitReview validates a submission against the order authority and persists it.
// Every failure is a *xerrors.Rejection whose Kind is one of the xerrors sentinels.
func (uc *ReviewUsecase) SubmitReview(ctx context.Context, in domain.SubmitReviewInput, tenantKey string) (review *domain.Review, err error) {
	tenantKey = tenant.Resolve(tenantKey)
	start := uc.now()
	defer func() {
		usecaseDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
		outcome := "created"
		if err != nil {
			outcome = xerrors.Code(err)
		}
		reviewSubmissions.WithLabelValues(outcome).Inc()
	}()

	if !domain.ValidRating(in.Rating) {
		return nil, xerrors.Reject(xerrors.ErrMalformedInput, msgRatingOutOfRange)
	}

	log := uc.logger.With(
		zap.String("tenant", tenantKey),
		zap.Int64("order_id", in.OrderID),
		zap.String("user_id", in.UserID),
	)

	// 1. fetch
	order, err := uc.orders.GetOrderByID(ctx, in.OrderID, tenantKey)
	if err != nil {
		log.Warn("order authority unavailable", zap.Error(err))
		if !errors.Is(err, xerrors.ErrOrderServiceUnavailable) {
			err = xerrors.RejectWrap(xerrors.ErrOrderServiceUnavailable, msgOrderServiceUnavailable, err)
		}
		return nil, err
	}

	// 2. existence
	if order == nil {
		return nil, xerrors.Reject(xerrors.ErrOrderNotFound, msgOrderNotFound)
	}

	// 3. ownership
	if order.UserID != in.UserID {
		log.Info("review rejected: order owned by another user")
		return nil, xerrors.Reject(xerrors.ErrForbidden, msgOrderNotOwned)
	}

	// 4. partner assignment
	partnerID, ok := order.AssignedPartner()
	if !ok {
		return nil, xerrors.Reject(xerrors.ErrInvalidOrderState, msgOrderNoPartner)
	}

	// 5. duplicate pre-check; the unique constraint below is the real guarantee
	existing, err := uc.repo.FindByOrderID(ctx, in.OrderID, tenantKey)
	if err != nil {
		log.Error("duplicate check failed", zap.Error(err))
		return nil, xerrors.RejectWrap(xerrors.ErrStorageUnavailable, msgDatabaseUnavailable, err)
	}
	if existing != nil {
		return nil, xerrors.Reject(xerrors.ErrConflict, msgOrderAlreadyReviewed)
	}

	// 6. persist
	review = &domain.Review{
		ID:        uuid.NewString(),
		OrderID:   in.OrderID,
		UserID:    in.UserID,
		PartnerID: partnerID,
		Rating:    in.Rating,
		Comment:   in.Comment,
	}
	if err := uc.repo.Insert(ctx, review, tenantKey); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateKey) {
			log.Info("lost insert race for order")
			return nil, xerrors.Reject(xerrors.ErrConflict, msgOrderAlreadyReviewed)
		}
		if errors.Is(err, xerrors.ErrInvalidData) {
			log.Info("review rejected by storage constraints", zap.Error(err))
			return nil, xerrors.RejectWrap(xerrors.ErrMalformedInput, msgInvalidReviewData, err)
		}
		log.Error("insert review failed", zap.Error(err))
		return nil, xerrors.RejectWrap(xerrors.ErrStorageUnavailable, msgDatabaseUnavailable, err)
	}

	log.Info("review created",
		zap.String("review_id", review.ID),
		zap.String("partner_id", review.PartnerID),
		zap.Int("rating", review.Rating))

	uc.afterCreate(ctx, review, tenantKey)
	return review, nil
}

// afterCreate runs best-effort side effects; none of them can fail the submission.
func (uc *ReviewUsecase) afterCreate(ctx context.Context, review *domain.Review, tenantKey string) {
	ctx = context.WithoutCancel(ctx)

	if err := uc.cache.InvalidateRating(ctx, tenantKey, review.PartnerID); err != nil {
		uc.logger.Warn("failed to invalidate cached rating",
			zap.String("tenant", tenantKey),
			zap.String("partner_id", review.PartnerID),
			zap.Error(err))
	}
	if err := uc.publisher.PublishReviewCreated(ctx, review, tenantKey); err != nil {
		uc.logger.Warn("review event not published",
			zap.String("review_id", review.ID),
			zap.Error(err))
	}
}

// ===============================
// Reads
// ===============================

// ListPartnerReviews returns the partner's reviews within the tenant, newest first.
func (uc *ReviewUsecase) ListPartnerReviews(ctx context.Context, partnerID, tenantKey string) ([]*domain.Review, error) {
	start := uc.now()
	defer func() { usecaseDuration.WithLabelValues("list").Observe(time.Since(start).Seconds()) }()

	reviews, err := uc.repo.ListByPartner(ctx, partnerID, tenant.Resolve(tenantKey))
	if err != nil {
		return nil, uc.storageFailure("list partner reviews", err)
	}
	return reviews, nil
}

// GetPartnerRating returns (0.0, 0) for partners without reviews in the tenant.
func (uc *ReviewUsecase) GetPartnerRating(ctx context.Context, partnerID, tenantKey string) (domain.PartnerRating, error) {
	tenantKey = tenant.Resolve(tenantKey)
	start := uc.now()
	defer func() { usecaseDuration.WithLabelValues("rating").Observe(time.Since(start).Seconds()) }()

	// a failed read yields no generation to write back under
	cached, gen, err := uc.cache.GetRating(ctx, tenantKey, partnerID)
	writeBack := err == nil
	if err != nil {
		uc.logger.Warn("rating cache read failed", zap.Error(err))
	}
	if cached != nil {
		return *cached, nil
	}

	agg, err := uc.repo.AggregateForPartner(ctx, partnerID, tenantKey)
	if err != nil {
		return domain.PartnerRating{}, uc.storageFailure("aggregate partner rating", err)
	}

	rating := domain.NewPartnerRating(partnerID, agg.Avg, agg.Count)
	if writeBack {
		if err := uc.cache.SetRating(ctx, tenantKey, rating, gen); err != nil {
			uc.logger.Warn("rating cache write failed", zap.Error(err))
		}
	}
	return rating, nil
}

// GetPartnersRatings returns exactly one entry per distinct requested partner id.
func (uc *ReviewUsecase) GetPartnersRatings(ctx context.Context, partnerIDs []string, tenantKey string) (map[string]domain.PartnerRating, error) {
	tenantKey = tenant.Resolve(tenantKey)
	start := uc.now()
	defer func() { usecaseDuration.WithLabelValues("ratings_bulk").Observe(time.Since(start).Seconds()) }()

	ids := dedupe(partnerIDs)
	result := make(map[string]domain.PartnerRating, len(ids))

	cached, gens, err := uc.cache.GetRatingsBatch(ctx, tenantKey, ids)
	writeBack := err == nil
	if err != nil {
		uc.logger.Warn("rating cache batch read failed", zap.Error(err))
		cached = nil
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if r, ok := cached[id]; ok {
			result[id] = r
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	aggs, err := uc.repo.AggregateForPartners(ctx, missing, tenantKey)
	if err != nil {
		return nil, uc.storageFailure("aggregate partners ratings", err)
	}

	fresh := make([]domain.PartnerRating, 0, len(missing))
	for _, id := range missing {
		agg := aggs[id]
		rating := domain.NewPartnerRating(id, agg.Avg, agg.Count)
		result[id] = rating
		fresh = append(fresh, rating)
	}
	if writeBack {
		if err := uc.cache.SetRatingsBatch(ctx, tenantKey, fresh, gens); err != nil {
			uc.logger.Warn("rating cache batch write failed", zap.Error(err))
		}
	}
	return result, nil
}

// Health checks that the tenant's storage partition is reachable.
func (uc *ReviewUsecase) Health(ctx context.Context, tenantKey string) error {
	if err := uc.repo.Ping(ctx, tenant.Resolve(tenantKey)); err != nil {
		return uc.storageFailure("health check", err)
	}
	return nil
}

func (uc *ReviewUsecase) storageFailure(op string, err error) error {
	uc.logger.Error(op+" failed", zap.Error(err))
	return xerrors.RejectWrap(xerrors.ErrStorageUnavailable, msgDatabaseUnavailable, fmt.Errorf("%s: %w", op, err))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

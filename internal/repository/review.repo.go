package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"review-service/internal/domain"
	"review-service/internal/tenant"
	"review-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ReviewRepository is the tenant-scoped review store. Every method operates
// exclusively inside the partition named by tenantKey.
type ReviewRepository interface {
	Insert(ctx context.Context, review *domain.Review, tenantKey string) error
	FindByOrderID(ctx context.Context, orderID int64, tenantKey string) (*domain.Review, error)
	ListByPartner(ctx context.Context, partnerID, tenantKey string) ([]*domain.Review, error)
	AggregateForPartner(ctx context.Context, partnerID, tenantKey string) (domain.RatingAggregate, error)
	AggregateForPartners(ctx context.Context, partnerIDs []string, tenantKey string) (map[string]domain.RatingAggregate, error)
	Ping(ctx context.Context, tenantKey string) error
}

type reviewRepo struct {
	db     *pgxpool.Pool
	logger *zap.Logger

	// partition names already provisioned by this process
	ready sync.Map
}

func NewReviewRepo(db *pgxpool.Pool, logger *zap.Logger) ReviewRepository {
	return &reviewRepo{db: db, logger: logger}
}

const reviewColumns = `id, order_id, user_id, partner_id, rating, comment, created_at, updated_at`

// ===============================
// Partition provisioning
// ===============================

func schemaDDL(tenantKey string) []string {
	schema := tenant.Schema(tenantKey)
	table := tenant.Table(tenantKey, "reviews")
	touchFn := tenant.Table(tenantKey, "reviews_touch_updated_at")

	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			id          VARCHAR(36)  PRIMARY KEY,
			order_id    BIGINT       NOT NULL,
			user_id     TEXT         NOT NULL,
			partner_id  TEXT         NOT NULL,
			rating      INTEGER      NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment     TEXT,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			seq         BIGSERIAL    NOT NULL,
			CONSTRAINT uq_reviews_order_id UNIQUE (order_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_reviews_user_id ON ` + table + ` (user_id)`,
		`CREATE INDEX IF NOT EXISTS ix_reviews_partner_id ON ` + table + ` (partner_id, created_at DESC)`,
		`CREATE OR REPLACE FUNCTION ` + touchFn + `() RETURNS trigger AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_reviews_touch_updated_at ON ` + table,
		`CREATE TRIGGER trg_reviews_touch_updated_at BEFORE UPDATE ON ` + table +
			` FOR EACH ROW EXECUTE FUNCTION ` + touchFn + `()`,
	}
}

// EnsurePartition creates the tenant's schema and reviews table if missing.
func (r *reviewRepo) EnsurePartition(ctx context.Context, tenantKey string) error {
	tenantKey = tenant.Resolve(tenantKey)
	name := tenant.PartitionName(tenantKey)
	if _, ok := r.ready.Load(name); ok {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin partition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// serialise concurrent provisioning of the same tenant across processes
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "reviews:"+name); err != nil {
		return fmt.Errorf("lock partition %q: %w", tenantKey, err)
	}
	for _, stmt := range schemaDDL(tenantKey) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision partition %q: %w", tenantKey, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit partition %q: %w", tenantKey, err)
	}

	r.ready.Store(name, struct{}{})
	r.logger.Info("tenant partition ready", zap.String("tenant", tenantKey), zap.String("schema", name))
	return nil
}

// ===============================
// Writes
// ===============================

// Insert persists review; a second review for the same order in the same tenant
// fails with xerrors.ErrDuplicateKey, and values postgres refuses fail with
// xerrors.ErrInvalidData.
func (r *reviewRepo) Insert(ctx context.Context, review *domain.Review, tenantKey string) error {
	if err := r.EnsurePartition(ctx, tenantKey); err != nil {
		return err
	}

	query := `
		INSERT INTO ` + tenant.Table(tenantKey, "reviews") + ` (
			id, order_id, user_id, partner_id, rating, comment, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		review.ID,
		review.OrderID,
		review.UserID,
		review.PartnerID,
		review.Rating,
		review.Comment,
	).Scan(&review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return fmt.Errorf("review for order %d: %w", review.OrderID, xerrors.ErrDuplicateKey)
		}
		if xerrors.IsInvalidData(err) {
			return fmt.Errorf("review for order %d: %w: %w", review.OrderID, xerrors.ErrInvalidData, err)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ===============================
// Reads
// ===============================

// FindByOrderID returns (nil, nil) when no review exists for orderID.
func (r *reviewRepo) FindByOrderID(ctx context.Context, orderID int64, tenantKey string) (*domain.Review, error) {
	if err := r.EnsurePartition(ctx, tenantKey); err != nil {
		return nil, err
	}

	query := `SELECT ` + reviewColumns + ` FROM ` + tenant.Table(tenantKey, "reviews") + ` WHERE order_id = $1`

	review, err := scanReview(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find review by order: %w", err)
	}
	return review, nil
}

// ListByPartner returns the partner's reviews, newest first.
func (r *reviewRepo) ListByPartner(ctx context.Context, partnerID, tenantKey string) ([]*domain.Review, error) {
	if err := r.EnsurePartition(ctx, tenantKey); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + reviewColumns + `
		FROM ` + tenant.Table(tenantKey, "reviews") + `
		WHERE partner_id = $1
		ORDER BY created_at DESC, seq DESC
	`
	rows, err := r.db.Query(ctx, query, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list partner reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]*domain.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}

func (r *reviewRepo) AggregateForPartner(ctx context.Context, partnerID, tenantKey string) (domain.RatingAggregate, error) {
	var agg domain.RatingAggregate
	if err := r.EnsurePartition(ctx, tenantKey); err != nil {
		return agg, err
	}

	query := `
		SELECT COALESCE(AVG(rating), 0)::float8, COUNT(id)
		FROM ` + tenant.Table(tenantKey, "reviews") + `
		WHERE partner_id = $1
	`
	if err := r.db.QueryRow(ctx, query, partnerID).Scan(&agg.Avg, &agg.Count); err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("aggregate partner rating: %w", err)
	}
	return agg, nil
}

// AggregateForPartners returns one entry per requested id, zero-valued for partners without reviews.
func (r *reviewRepo) AggregateForPartners(ctx context.Context, partnerIDs []string, tenantKey string) (map[string]domain.RatingAggregate, error) {
	result := make(map[string]domain.RatingAggregate, len(partnerIDs))
	for _, id := range partnerIDs {
		result[id] = domain.RatingAggregate{}
	}
	if len(partnerIDs) == 0 {
		return result, nil
	}
	if err := r.EnsurePartition(ctx, tenantKey); err != nil {
		return nil, err
	}

	query := `
		SELECT partner_id, AVG(rating)::float8, COUNT(id)
		FROM ` + tenant.Table(tenantKey, "reviews") + `
		WHERE partner_id = ANY($1)
		GROUP BY partner_id
	`
	rows, err := r.db.Query(ctx, query, partnerIDs)
	if err != nil {
		return nil, fmt.Errorf("aggregate partners ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			partnerID string
			agg       domain.RatingAggregate
		)
		if err := rows.Scan(&partnerID, &agg.Avg, &agg.Count); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		result[partnerID] = agg
	}
	return result, rows.Err()
}

// Ping checks the database answers a read. It never provisions: a tenant whose
// partition does not exist yet is still healthy, the write path creates it.
func (r *reviewRepo) Ping(ctx context.Context, tenantKey string) error {
	var provisioned bool
	err := r.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, tenant.Table(tenantKey, "reviews")).Scan(&provisioned)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !provisioned {
		r.logger.Debug("tenant partition not provisioned yet", zap.String("tenant", tenant.Resolve(tenantKey)))
	}
	return nil
}

func scanReview(row pgx.Row) (*domain.Review, error) {
	var rv domain.Review
	err := row.Scan(
		&rv.ID,
		&rv.OrderID,
		&rv.UserID,
		&rv.PartnerID,
		&rv.Rating,
		&rv.Comment,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

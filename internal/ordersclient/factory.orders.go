package ordersclient

import (
	"context"
	"fmt"
	"time"

	"review-service/internal/domain"
	"review-service/internal/tenant"
	"review-service/pkg/xerrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Retries stay inside this boundary; the review pipeline itself never retries.
const retryServiceConfig = `{
	"methodConfig": [{
		"name": [{"service": "orders.OrdersService"}],
		"retryPolicy": {
			"maxAttempts": 3,
			"initialBackoff": "0.1s",
			"maxBackoff": "1s",
			"backoffMultiplier": 2,
			"retryableStatusCodes": ["UNAVAILABLE"]
		}
	}]
}`

var orderLookupDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "orders_lookup_duration_seconds",
		Help:    "Duration of order authority lookups",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
	},
	[]string{"outcome"},
)

type OrdersService struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *zap.Logger
}

// NewOrdersService creates a client for the order authority at target.
// Extra dial options are appended after the defaults.
func NewOrdersService(target string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*OrdersService, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(retryServiceConfig),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial order service at %s: %w", target, err)
	}

	return &OrdersService{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (s *OrdersService) Close() error {
	return s.conn.Close()
}

// GetOrderByID fetches an order scoped to tenantKey.
// It returns (nil, nil) when the authority has no such order. Any other failure
// wraps xerrors.ErrOrderServiceUnavailable.
func (s *OrdersService) GetOrderByID(ctx context.Context, orderID int64, tenantKey string) (*domain.Order, error) {
	start := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, tenant.MetadataKey, tenant.Resolve(tenantKey))

	req := dynamicpb.NewMessage(ordersSchema.request)
	req.Set(ordersSchema.reqOrderID, protoreflect.ValueOfInt64(orderID))
	resp := dynamicpb.NewMessage(ordersSchema.response)

	if err := s.conn.Invoke(ctx, GetOrderByIDMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			orderLookupDuration.WithLabelValues("not_found").Observe(time.Since(start).Seconds())
			return nil, nil
		}
		orderLookupDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		s.logger.Warn("order lookup failed",
			zap.Int64("order_id", orderID),
			zap.String("tenant", tenantKey),
			zap.Error(err))
		return nil, xerrors.RejectWrap(xerrors.ErrOrderServiceUnavailable, "Order service unavailable", err)
	}

	order := orderFromResponse(resp)
	outcome := "found"
	if order == nil {
		outcome = "not_found"
	}
	orderLookupDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return order, nil
}

func orderFromResponse(resp protoreflect.Message) *domain.Order {
	if !resp.Has(ordersSchema.respOrder) {
		return nil
	}
	m := resp.Get(ordersSchema.respOrder).Message()

	order := &domain.Order{
		ID:     m.Get(ordersSchema.orderID).Int(),
		UserID: m.Get(ordersSchema.orderUserID).String(),
	}
	if m.Has(ordersSchema.orderPartnerID) {
		partnerID := m.Get(ordersSchema.orderPartnerID).String()
		order.PartnerID = &partnerID
	}
	return order
}

package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketplace-settlements/internal/types"
	"github.com/ksred/marketplace-settlements/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrInvalidRecord        = errors.New("invalid marketplace record")
	ErrEmptyBatch           = errors.New("no records in request")
	ErrIdempotencyKeyReused = errors.New("idempotency key was used for a different resource")
)

const IdempotencyKeyHeader = "Idempotency-Key"

// Service stores the marketplace snapshots pushed by the catalog and order
// backends and serves them to the settlement engine.
type Service struct {
	db     *Database
	logger zerolog.Logger
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		logger: log.With().Str("service", "marketplace").Logger(),
	}
}

// replay returns the stored result for key, or nil if key is new or expired.
func (s *Service) replay(ctx context.Context, key, resourceType string) (*IngestResult, error) {
	record, err := s.db.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Expired(time.Now()) {
		return nil, nil
	}
	if record.ResourceType != resourceType {
		return nil, fmt.Errorf("%w: key %q belongs to %s", ErrIdempotencyKeyReused, key, record.ResourceType)
	}
	ids := record.IDs()
	return &IngestResult{
		ResourceType: resourceType,
		Count:        len(ids),
		IDs:          ids,
		Replayed:     true,
	}, nil
}

// UpsertPartners validates and stores partners. A key seen within the last
// 24 hours returns the original result without writing.
func (s *Service) UpsertPartners(ctx context.Context, partners []types.Partner, idempotencyKey string) (*IngestResult, error) {
	if result, err := s.replay(ctx, idempotencyKey, ResourcePartners); err != nil || result != nil {
		return result, err
	}
	if err := validatePartners(partners); err != nil {
		return nil, err
	}

	if err := s.db.UpsertPartners(ctx, partners, idempotencyKey); err != nil {
		s.logger.Error().Err(err).Int("count", len(partners)).Msg("failed to store partners")
		return nil, fmt.Errorf("failed to store partners: %w", err)
	}

	ids := make([]string, len(partners))
	for i, p := range partners {
		ids[i] = p.PartnerID
	}
	s.logger.Info().Int("count", len(ids)).Msg("partners stored")
	return &IngestResult{ResourceType: ResourcePartners, Count: len(ids), IDs: ids}, nil
}

func (s *Service) UpsertProducts(ctx context.Context, products []types.Product, idempotencyKey string) (*IngestResult, error) {
	if result, err := s.replay(ctx, idempotencyKey, ResourceProducts); err != nil || result != nil {
		return result, err
	}
	if err := validateProducts(products); err != nil {
		return nil, err
	}

	if err := s.db.UpsertProducts(ctx, products, idempotencyKey); err != nil {
		s.logger.Error().Err(err).Int("count", len(products)).Msg("failed to store products")
		return nil, fmt.Errorf("failed to store products: %w", err)
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ProductID
	}
	s.logger.Info().Int("count", len(ids)).Msg("products stored")
	return &IngestResult{ResourceType: ResourceProducts, Count: len(ids), IDs: ids}, nil
}

// UpsertOrders stores orders with their items. Re-pushing an order replaces
// its items.
func (s *Service) UpsertOrders(ctx context.Context, orders []types.Order, idempotencyKey string) (*IngestResult, error) {
	if result, err := s.replay(ctx, idempotencyKey, ResourceOrders); err != nil || result != nil {
		return result, err
	}
	if err := validateOrders(orders); err != nil {
		return nil, err
	}

	if err := s.db.UpsertOrders(ctx, orders, idempotencyKey); err != nil {
		s.logger.Error().Err(err).Int("count", len(orders)).Msg("failed to store orders")
		return nil, fmt.Errorf("failed to store orders: %w", err)
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
	}
	s.logger.Info().Int("count", len(ids)).Msg("orders stored")
	return &IngestResult{ResourceType: ResourceOrders, Count: len(ids), IDs: ids}, nil
}

func (s *Service) ListOrders(ctx context.Context, from, to time.Time) ([]types.Order, error) {
	return s.db.ListOrders(ctx, from, to)
}

func (s *Service) ListProducts(ctx context.Context) ([]types.Product, error) {
	return s.db.ListProducts(ctx)
}

func (s *Service) ListPartners(ctx context.Context) ([]types.Partner, error) {
	return s.db.ListPartners(ctx)
}

func (s *Service) GetPartner(ctx context.Context, partnerID string) (*types.Partner, error) {
	return s.db.GetPartner(ctx, partnerID)
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	return s.db.GetOrder(ctx, orderID)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

func validatePartners(partners []types.Partner) error {
	if len(partners) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]bool, len(partners))
	for i := range partners {
		p := &partners[i]
		if p.PartnerID == "" {
			return invalid("partner %d has no id", i)
		}
		if seen[p.PartnerID] {
			return invalid("partner %s appears twice", p.PartnerID)
		}
		seen[p.PartnerID] = true
		if p.Name == "" {
			return invalid("partner %s has no name", p.PartnerID)
		}
		if p.Status == "" {
			p.Status = "active"
		}
		p.ID = 0
	}
	return nil
}

func validateProducts(products []types.Product) error {
	if len(products) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]bool, len(products))
	for i := range products {
		p := &products[i]
		if p.ProductID == "" {
			return invalid("product %d has no id", i)
		}
		if seen[p.ProductID] {
			return invalid("product %s appears twice", p.ProductID)
		}
		seen[p.ProductID] = true
		if p.Price.IsNegative() {
			return invalid("product %s has a negative price", p.ProductID)
		}
		switch p.Type {
		case types.ProductTypePlatformSupplied:
			if !p.WholesaleCost.Valid {
				return invalid("platform-supplied product %s has no wholesale cost", p.ProductID)
			}
			if p.WholesaleCost.Decimal.IsNegative() {
				return invalid("product %s has a negative wholesale cost", p.ProductID)
			}
		case types.ProductTypePartnerUploaded:
			// Wholesale cost means nothing for partner inventory.
			p.WholesaleCost.Valid = false
		default:
			return invalid("product %s has unknown type %q", p.ProductID, p.Type)
		}
		p.ID = 0
	}
	return nil
}

func validateOrders(orders []types.Order) error {
	if len(orders) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[string]bool, len(orders))
	for i := range orders {
		o := &orders[i]
		if o.OrderID == "" {
			return invalid("order %d has no id", i)
		}
		if seen[o.OrderID] {
			return invalid("order %s appears twice", o.OrderID)
		}
		seen[o.OrderID] = true
		if o.PartnerID == "" {
			return invalid("order %s has no partner", o.OrderID)
		}
		if o.CreatedAt.IsZero() {
			return invalid("order %s has no creation time", o.OrderID)
		}
		if o.OrderNumber == "" {
			o.OrderNumber = o.OrderID
		}
		o.CreatedAt = o.CreatedAt.UTC()
		o.ID = 0
		for j, item := range o.Items {
			if item.ProductID == "" {
				return invalid("order %s line %d has no product", o.OrderID, j)
			}
			if item.Quantity <= 0 {
				return invalid("order %s line %d has quantity %d", o.OrderID, j, item.Quantity)
			}
			if item.Price.IsNegative() {
				return invalid("order %s line %d has a negative price", o.OrderID, j)
			}
		}
	}
	return nil
}

// GinHandlers contains HTTP handlers for the internal ingestion endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func respond(c *gin.Context, data interface{}, err error) {
	switch {
	case errors.Is(err, ErrInvalidRecord), errors.Is(err, ErrEmptyBatch):
		response.ValidationFailed(c, err.Error())
	case errors.Is(err, ErrIdempotencyKeyReused):
		response.StateConflict(c, err.Error())
	default:
		response.Handle(c, data, err)
	}
}

// respondIngest answers 200 instead of 201 when the key replayed an earlier
// write.
func respondIngest(c *gin.Context, result *IngestResult, err error) {
	if err == nil && result.Replayed {
		response.OK(c, result)
		return
	}
	respond(c, result, err)
}

func (h *GinHandlers) UpsertPartnersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var request UpsertPartnersRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.UpsertPartners(c.Request.Context(), request.Partners, idempotencyKey)
		respondIngest(c, result, err)
	}
}

func (h *GinHandlers) UpsertProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var request UpsertProductsRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.UpsertProducts(c.Request.Context(), request.Products, idempotencyKey)
		respondIngest(c, result, err)
	}
}

func (h *GinHandlers) UpsertOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var request UpsertOrdersRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.UpsertOrders(c.Request.Context(), request.Orders, idempotencyKey)
		respondIngest(c, result, err)
	}
}

func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Request.Context(), c.Param("order_id"))
		if err == nil && order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		respond(c, order, err)
	}
}

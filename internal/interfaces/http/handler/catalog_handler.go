package handler

import (
	"net/http"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/infrastructure/catalog"
	"github.com/casevault/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// CatalogHandler exposes the tier catalog
type CatalogHandler struct {
	BaseHandler
	catalog *catalog.Catalog
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

// RegisterRoutes registers all catalog routes
func (h *CatalogHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tiers := rg.Group("/tiers")
	{
		tiers.GET("", h.List)
		tiers.GET("/:id", h.GetByID)
		tiers.POST("/reload", h.Reload)
	}
}

func toTierResponse(tier *entitlement.Tier) dto.TierResponse {
	limits := make([]dto.ResourceLimitResponse, len(tier.Limits))
	for i, limit := range tier.Limits {
		bands := make([]dto.FeeBandResponse, len(limit.FeeSchedule))
		for j, band := range limit.FeeSchedule {
			bands[j] = dto.FeeBandResponse{
				ThresholdFraction: band.ThresholdFraction.String(),
				FeePerUnit:        band.FeePerUnit.String(),
			}
		}
		limits[i] = dto.ResourceLimitResponse{
			Resource:    string(limit.Resource),
			Unit:        string(limit.Resource.Unit()),
			CapPolicy:   string(limit.CapPolicy),
			Limit:       limit.Limit,
			FeeSchedule: bands,
		}
	}
	return dto.TierResponse{
		ID:        tier.ID,
		Name:      tier.Name,
		TrialDays: tier.TrialDays,
		Limits:    limits,
	}
}

// List returns all tiers in the catalog
func (h *CatalogHandler) List(c *gin.Context) {
	tiers := h.catalog.Tiers()
	out := make([]dto.TierResponse, len(tiers))
	for i, tier := range tiers {
		out[i] = toTierResponse(tier)
	}
	h.Success(c, out)
}

// GetByID returns one tier
func (h *CatalogHandler) GetByID(c *gin.Context) {
	tier, err := h.catalog.Resolve(c.Param("id"))
	if err != nil {
		h.NotFound(c, "Tier not found: "+c.Param("id"))
		return
	}
	h.Success(c, toTierResponse(tier))
}

// Reload re-reads the tier file. On error the previous catalog stays live.
func (h *CatalogHandler) Reload(c *gin.Context) {
	if err := h.catalog.Reload(); err != nil {
		h.Error(c, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState, "Catalog reload failed: "+err.Error())
		return
	}
	h.Success(c, gin.H{"tiers": len(h.catalog.Tiers())})
}

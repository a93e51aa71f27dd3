package catalog

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/casevault/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Catalog is the file-backed tier catalog. Tier definitions are loaded from
// YAML at startup and swapped atomically on reload, so admission decisions
// always see a complete, validated snapshot. Published tiers are treated as
// immutable: a changed entitlement ships under a new tier ID.
type Catalog struct {
	path       string
	freeTierID string
	logger     *zap.Logger
	snapshot   atomic.Pointer[snapshot]
}

type snapshot struct {
	tiers map[string]*entitlement.Tier
	order []string
}

// New creates a catalog and performs the initial load
func New(cfg config.CatalogConfig, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		path:       cfg.Path,
		freeTierID: cfg.FreeTierID,
		logger:     logger,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the tier file and swaps the snapshot atomically. On any
// parse or validation error the previous snapshot stays in effect.
func (c *Catalog) Reload() error {
	v := viper.New()
	v.SetConfigFile(c.path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading tier catalog %s: %w", c.path, err)
	}

	var defs []entitlement.Tier
	if err := v.UnmarshalKey("tiers", &defs, viper.DecodeHook(decimalDecodeHook)); err != nil {
		return fmt.Errorf("parsing tier catalog %s: %w", c.path, err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("tier catalog %s defines no tiers", c.path)
	}

	next := &snapshot{tiers: make(map[string]*entitlement.Tier, len(defs))}
	for i := range defs {
		tier := defs[i]
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("invalid tier %q: %w", tier.ID, err)
		}
		if _, ok := next.tiers[tier.ID]; ok {
			return fmt.Errorf("duplicate tier ID %q", tier.ID)
		}
		next.tiers[tier.ID] = &tier
		next.order = append(next.order, tier.ID)
	}
	if _, ok := next.tiers[c.freeTierID]; !ok {
		return fmt.Errorf("tier catalog %s does not define free tier %q", c.path, c.freeTierID)
	}

	c.snapshot.Store(next)
	c.logger.Info("tier catalog loaded",
		zap.String("path", c.path),
		zap.Int("tiers", len(next.order)),
		zap.String("free_tier", c.freeTierID),
	)
	return nil
}

// Resolve returns the tier for the given ID
func (c *Catalog) Resolve(tierID string) (*entitlement.Tier, error) {
	snap := c.snapshot.Load()
	if tier, ok := snap.tiers[tierID]; ok {
		return tier, nil
	}
	return nil, shared.ErrNotFound
}

// FreeTier returns the designated fallback tier
func (c *Catalog) FreeTier() (*entitlement.Tier, error) {
	return c.Resolve(c.freeTierID)
}

// Tiers returns all tiers in file order
func (c *Catalog) Tiers() []*entitlement.Tier {
	snap := c.snapshot.Load()
	out := make([]*entitlement.Tier, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.tiers[id])
	}
	return out
}

// decimalDecodeHook converts YAML scalars into decimal.Decimal fields so fee
// schedules can be written as plain numbers
func decimalDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}
	return data, nil
}

// Ensure Catalog implements TierResolver
var _ entitlement.TierResolver = (*Catalog)(nil)

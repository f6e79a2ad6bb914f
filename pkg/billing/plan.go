package billing

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Limits holds the resource quotas of a plan. Unlimited (-1) disables a quota.
type Limits struct {
	APICalls    int64 `yaml:"api_calls"`
	StorageGB   int64 `yaml:"storage_gb"`
	BandwidthGB int64 `yaml:"bandwidth_gb"`
	MaxUsers    int64 `yaml:"max_users"`
}

// Plan describes a subscription plan. ProviderPriceID links paid plans to the
// payment provider's price so webhook events can be mapped back to a plan.
type Plan struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	Tier            Tier            `yaml:"tier"`
	Price           Money           `yaml:"price"`
	Interval        BillingInterval `yaml:"interval"`
	Features        []string        `yaml:"features"`
	Limits          Limits          `yaml:"limits"`
	ProviderPriceID string          `yaml:"provider_price_id"`
	IncludedCredits int64           `yaml:"included_credits"`
}

// IsFree reports whether the plan costs nothing.
func (p Plan) IsFree() bool {
	return p.Price.Amount == 0
}

// CreditPack is a one-time purchasable bundle of credits.
type CreditPack struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Credits         int64  `yaml:"credits"`
	Price           Money  `yaml:"price"`
	ProviderPriceID string `yaml:"provider_price_id"`
}

// Catalog is the read-only set of plans and credit packs.
// It is safe for concurrent use since nothing mutates it after NewCatalog.
type Catalog struct {
	plans      map[string]Plan
	ordered    []Plan
	free       Plan
	packs      map[string]CreditPack
	packsOrder []CreditPack
	byPrice    map[string]string // provider price ID -> plan ID
	packPrice  map[string]string // provider price ID -> pack ID
}

// NewCatalog validates plans and packs and builds the lookup indexes.
// Exactly one plan must be free and every paid plan needs a unique provider price ID,
// so that PlanForPrice is total over the configured prices.
func NewCatalog(plans []Plan, packs ...CreditPack) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("at least one plan is required"))
	}

	c := &Catalog{
		plans:     make(map[string]Plan, len(plans)),
		packs:     make(map[string]CreditPack, len(packs)),
		byPrice:   make(map[string]string),
		packPrice: make(map[string]string),
	}

	freeCount := 0
	for _, p := range plans {
		if err := validatePlan(p); err != nil {
			return nil, err
		}
		if _, exists := c.plans[p.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		if p.IsFree() {
			freeCount++
			c.free = p
		} else {
			if _, exists := c.byPrice[p.ProviderPriceID]; exists {
				return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate provider price id %q", p.ProviderPriceID))
			}
			c.byPrice[p.ProviderPriceID] = p.ID
		}
		p.Features = slices.Clone(p.Features)
		c.plans[p.ID] = p
		c.ordered = append(c.ordered, p)
	}
	if freeCount != 1 {
		return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("exactly one free plan is required, got %d", freeCount))
	}

	for _, pack := range packs {
		if err := validatePack(pack); err != nil {
			return nil, err
		}
		if _, exists := c.packs[pack.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate credit pack id %q", pack.ID))
		}
		_, planPrice := c.byPrice[pack.ProviderPriceID]
		_, packPrice := c.packPrice[pack.ProviderPriceID]
		if planPrice || packPrice {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate provider price id %q", pack.ProviderPriceID))
		}
		c.packPrice[pack.ProviderPriceID] = pack.ID
		c.packs[pack.ID] = pack
		c.packsOrder = append(c.packsOrder, pack)
	}

	slices.SortStableFunc(c.ordered, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.Price.Amount, b.Price.Amount), strings.Compare(a.ID, b.ID))
	})
	slices.SortStableFunc(c.packsOrder, func(a, b CreditPack) int {
		return cmp.Or(cmp.Compare(a.Price.Amount, b.Price.Amount), strings.Compare(a.ID, b.ID))
	})

	return c, nil
}

// GetPlan returns the plan with the given ID or ErrUnknownPlan.
func (c *Catalog) GetPlan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return clonePlan(p), nil
}

// ListPlans returns all plans ordered by ascending price.
func (c *Catalog) ListPlans() []Plan {
	out := make([]Plan, 0, len(c.ordered))
	for _, p := range c.ordered {
		out = append(out, clonePlan(p))
	}
	return out
}

// FreePlan returns the zero-price plan every user starts on.
func (c *Catalog) FreePlan() Plan {
	return clonePlan(c.free)
}

// PlanForPrice maps a provider price ID to the plan it was configured for.
func (c *Catalog) PlanForPrice(priceID string) (Plan, error) {
	id, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: no plan for provider price %q", ErrUnknownPlan, priceID)
	}
	return clonePlan(c.plans[id]), nil
}

// GetPack returns the credit pack with the given ID or ErrUnknownPack.
func (c *Catalog) GetPack(id string) (CreditPack, error) {
	p, ok := c.packs[id]
	if !ok {
		return CreditPack{}, fmt.Errorf("%w: %q", ErrUnknownPack, id)
	}
	return p, nil
}

// PackForPrice maps a provider price ID to its credit pack.
func (c *Catalog) PackForPrice(priceID string) (CreditPack, error) {
	id, ok := c.packPrice[priceID]
	if !ok {
		return CreditPack{}, fmt.Errorf("%w: no credit pack for provider price %q", ErrUnknownPack, priceID)
	}
	return c.packs[id], nil
}

// ListPacks returns all credit packs ordered by ascending price.
func (c *Catalog) ListPacks() []CreditPack {
	return slices.Clone(c.packsOrder)
}

func validatePlan(p Plan) error {
	invalid := func(format string, args ...any) error {
		return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %q: "+format, append([]any{p.ID}, args...)...))
	}
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("plan id is required"))
	case !p.Tier.Valid():
		return invalid("unknown tier %q", p.Tier)
	case !p.Interval.Valid():
		return invalid("unknown billing interval %q", p.Interval)
	case p.IncludedCredits < 0:
		return invalid("negative included credits")
	}
	if err := p.Price.Validate(); err != nil {
		return invalid("%v", err)
	}
	if p.IsFree() {
		if p.ProviderPriceID != "" {
			return invalid("free plan must not have a provider price id")
		}
		if p.Interval != IntervalNone {
			return invalid("free plan must use interval %q", IntervalNone)
		}
		return nil
	}
	if p.ProviderPriceID == "" {
		return invalid("paid plan requires a provider price id")
	}
	if p.Interval == IntervalNone {
		return invalid("paid plan requires a billing interval")
	}
	return nil
}

func validatePack(p CreditPack) error {
	invalid := func(format string, args ...any) error {
		return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("credit pack %q: "+format, append([]any{p.ID}, args...)...))
	}
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("credit pack id is required"))
	case p.Credits <= 0:
		return invalid("credits must be positive")
	case p.Price.Amount <= 0:
		return invalid("price must be positive")
	case p.ProviderPriceID == "":
		return invalid("provider price id is required")
	}
	if err := p.Price.Validate(); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func clonePlan(p Plan) Plan {
	p.Features = slices.Clone(p.Features)
	return p
}

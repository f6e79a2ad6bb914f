package billing

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPlans returns the plans offered on the pricing page.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:       "plan-free",
			Name:     "Free",
			Tier:     TierFree,
			Price:    Money{Amount: 0, Currency: "USD"},
			Interval: IntervalNone,
			Features: []string{
				"1,000 API calls/month",
				"1 GB storage",
				"5 GB bandwidth",
				"Email support",
			},
			Limits: Limits{APICalls: 1000, StorageGB: 1, BandwidthGB: 5, MaxUsers: 1},
		},
		{
			ID:       "plan-starter",
			Name:     "Starter",
			Tier:     TierStarter,
			Price:    Money{Amount: 999, Currency: "USD"},
			Interval: IntervalMonth,
			Features: []string{
				"10,000 API calls/month",
				"5 GB storage",
				"25 GB bandwidth",
				"Priority email support",
				"Basic analytics",
			},
			Limits:          Limits{APICalls: 10000, StorageGB: 5, BandwidthGB: 25, MaxUsers: 5},
			ProviderPriceID: "price_starter_monthly",
			IncludedCredits: 500,
		},
		{
			ID:       "plan-pro",
			Name:     "Pro",
			Tier:     TierPro,
			Price:    Money{Amount: 2999, Currency: "USD"},
			Interval: IntervalMonth,
			Features: []string{
				"50,000 API calls/month",
				"10 GB storage",
				"100 GB bandwidth",
				"24/7 chat support",
				"Advanced analytics",
				"Custom integrations",
			},
			Limits:          Limits{APICalls: 50000, StorageGB: 10, BandwidthGB: 100, MaxUsers: 25},
			ProviderPriceID: "price_pro_monthly",
			IncludedCredits: 2500,
		},
	}
}

// DefaultPacks returns the credit packs offered on the credits page.
func DefaultPacks() []CreditPack {
	return []CreditPack{
		{
			ID:              "credits-1000",
			Name:            "1000 credits",
			Credits:         1000,
			Price:           Money{Amount: 1999, Currency: "USD"},
			ProviderPriceID: "price_credits_1000",
		},
	}
}

// catalogFile is the on-disk shape of a catalog definition.
type catalogFile struct {
	Plans []Plan       `yaml:"plans"`
	Packs []CreditPack `yaml:"credit_packs"`
}

// LoadCatalogYAML decodes and validates a catalog definition.
//
// Example:
//
//	plans:
//	  - id: plan-free
//	    name: Free
//	    tier: free
//	    interval: none
//	    price: {amount: 0, currency: USD}
//	  - id: plan-pro
//	    name: Pro
//	    tier: pro
//	    interval: month
//	    price: {amount: 2999, currency: USD}
//	    provider_price_id: price_pro_monthly
//	credit_packs:
//	  - id: credits-1000
//	    credits: 1000
//	    price: {amount: 1999, currency: USD}
//	    provider_price_id: price_credits_1000
func LoadCatalogYAML(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("decode catalog: %w", err))
	}
	return NewCatalog(f.Plans, f.Packs...)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}
	defer f.Close()
	return LoadCatalogYAML(f)
}

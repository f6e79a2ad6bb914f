package main

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

// appConfig selects the runtime wiring. Component settings are loaded by their own packages.
type appConfig struct {
	Provider      string   `env:"BILLING_PROVIDER" envDefault:"dev"` // stripe, paddle or dev
	Store         string   `env:"BILLING_STORE" envDefault:"memory"` // memory or postgres
	Locker        string   `env:"BILLING_LOCKER" envDefault:"local"` // local or redis
	CatalogFile   string   `env:"BILLING_CATALOG_FILE"`
	BaseURL       string   `env:"BILLING_BASE_URL" envDefault:"http://localhost:8080"`
	DevSecret     string   `env:"BILLING_DEV_WEBHOOK_SECRET" envDefault:"whsec_dev"`
	RedirectHosts []string `env:"BILLING_REDIRECT_HOSTS" envSeparator:","`
	UsersTable    string   `env:"BILLING_USERS_TABLE" envDefault:"profiles"`
	SeedUsers     []string `env:"BILLING_SEED_USERS" envSeparator:","` // id:email pairs for the memory directory
	Metrics       bool     `env:"METRICS_ENABLED" envDefault:"true"`
}

func (c appConfig) validate() error {
	switch c.Provider {
	case "stripe", "paddle", "dev":
	default:
		return fmt.Errorf("unknown BILLING_PROVIDER %q", c.Provider)
	}
	switch c.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown BILLING_STORE %q", c.Store)
	}
	switch c.Locker {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown BILLING_LOCKER %q", c.Locker)
	}
	return nil
}

func (c appConfig) seedUsers() ([]billing.User, error) {
	users := make([]billing.User, 0, len(c.SeedUsers))
	for _, pair := range c.SeedUsers {
		id, email, _ := strings.Cut(strings.TrimSpace(pair), ":")
		if id == "" {
			return nil, fmt.Errorf("invalid BILLING_SEED_USERS entry %q", pair)
		}
		users = append(users, billing.User{ID: id, Email: email})
	}
	return users, nil
}

func (c appConfig) catalog() (*billing.Catalog, error) {
	if c.CatalogFile != "" {
		return billing.LoadCatalogFile(c.CatalogFile)
	}
	return billing.NewCatalog(billing.DefaultPlans(), billing.DefaultPacks()...)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

func TestAppConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := appConfig{Provider: "dev", Store: "memory", Locker: "local"}
	require.NoError(t, valid.validate())

	tests := map[string]appConfig{
		"provider": {Provider: "braintree", Store: "memory", Locker: "local"},
		"store":    {Provider: "stripe", Store: "sqlite", Locker: "local"},
		"locker":   {Provider: "paddle", Store: "postgres", Locker: "etcd"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, cfg.validate())
		})
	}
}

func TestAppConfig_SeedUsers(t *testing.T) {
	t.Parallel()

	users, err := appConfig{SeedUsers: []string{"u1:u1@example.com", " u2 "}}.seedUsers()
	require.NoError(t, err)
	assert.Equal(t, []billing.User{{ID: "u1", Email: "u1@example.com"}, {ID: "u2"}}, users)

	_, err = appConfig{SeedUsers: []string{":nobody@example.com"}}.seedUsers()
	assert.Error(t, err)
}

func TestAppConfig_Catalog(t *testing.T) {
	t.Parallel()

	catalog, err := appConfig{}.catalog()
	require.NoError(t, err)
	assert.Equal(t, "plan-free", catalog.FreePlan().ID)

	_, err = appConfig{CatalogFile: "testdata/missing.yaml"}.catalog()
	assert.Error(t, err)
}

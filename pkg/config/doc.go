// Package config loads env-tagged structs with github.com/caarlos0/env/v11,
// reading .env files through github.com/joho/godotenv first.
//
// Every service package declares its own Config struct (pg.Config, redis.Config,
// billing.StripeConfig ...) and the binary loads them one by one:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Each struct type is parsed once per process and cached. Tests can call
// ResetCache or ForceReload after changing the environment.
package config

// Package config provides type-safe environment variable loading with
// caching using Go generics. Each configuration type is loaded once and
// cached for subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
// Basic usage:
//
//	import (
//		"github.com/dmitrymomot/ssekit/core/config"
//		"github.com/dmitrymomot/ssekit/core/hub"
//	)
//
//	func main() {
//		var cfg hub.Config
//
//		// Load with error handling
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&cfg)
//
//		h := hub.New(cfg.Options()...)
//		_ = h
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per application lifetime:
//
//	var cfg1 hub.Config
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 hub.Config
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Different types are cached independently, so the hub, sequence, and redis
// configs can be loaded side by side.
//
// # .env Files
//
// A .env file in the working directory is loaded once before the first
// parse. A missing .env file is not an error; explicit environment
// variables always win over .env contents.
package config

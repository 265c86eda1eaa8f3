// Package redis provides the Redis-backed bus adapter for cross-instance
// event fan-out and distributed sequencing.
//
// This package wraps the go-redis client with connection validation, retry
// logic, and configuration for reliable connectivity. The resulting Bus
// implements the hub's bus contract (PUBLISH/SUBSCRIBE for envelopes) and
// the sequence package's Counter contract (INCR/EXPIRE), so one adapter
// serves both fan-out and distributed sequence numbers.
//
// # Usage
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	bus, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	h := hub.New(hub.WithBus(bus))
//	defer h.Shutdown(context.Background()) // closes the bus too
//
//	enhancer := sequence.NewEnhancer(sequence.WithCounter(bus))
//	defer enhancer.Close()
//
// Connection establishment validates the URL format (redis:// or rediss://),
// attempts connection with the configured retry attempts and interval, and
// verifies connectivity with a ping before returning.
//
// # Health Checking
//
// Healthcheck returns a probe function suitable for readiness endpoints:
//
//	check := redis.Healthcheck(bus)
//	if err := check(ctx); err != nil {
//		// report unhealthy
//	}
//
// # Error Handling
//
// The package defines domain-specific errors checked with errors.Is:
// ErrEmptyConnectionURL, ErrFailedToParseConnString, ErrNotReady,
// ErrHealthcheckFailed, and ErrBusClosed. They wrap the underlying go-redis
// errors while giving applications stable types for retry logic.
package redis

// Package di provides dependency injection wiring and initialization.
package di

import (
	"errors"
	"fmt"

	"github.com/aristath/verdict/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories
// 3. Initialize services
// 4. Register jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	// Step 1: Initialize databases
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Initialize repositories
	if err := InitializeRepositories(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// Step 3: Initialize services
	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: Register jobs
	if err := RegisterJobs(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection complete")
	return container, nil
}

// Close releases the stores and databases. Background workers must be stopped first.
func (c *Container) Close() error {
	var errs []error

	if c.CacheStore != nil {
		if err := c.CacheStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache store: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s database: %w", db.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Package handlers registers every task family with a registry.
package handlers

import (
	"fmt"

	"harvestflow/internal/handlers/analytics"
	"harvestflow/internal/handlers/images"
	"harvestflow/internal/handlers/inventory"
	"harvestflow/internal/handlers/notification"
	"harvestflow/internal/registry"
)

type Deps struct {
	Inventory    inventory.Deps
	Notification notification.Deps
	Analytics    analytics.Deps
	Images       images.Deps
}

// RegisterAll registers the four families and seals the registry.
func RegisterAll(reg *registry.Registry, d Deps) error {
	for _, f := range []struct {
		family   string
		register func() error
	}{
		{"inventory", func() error { return inventory.Register(reg, d.Inventory) }},
		{"notification", func() error { return notification.Register(reg, d.Notification) }},
		{"analytics", func() error { return analytics.Register(reg, d.Analytics) }},
		{"images", func() error { return images.Register(reg, d.Images) }},
	} {
		if err := f.register(); err != nil {
			return fmt.Errorf("register %s tasks: %w", f.family, err)
		}
	}
	reg.Seal()
	return nil
}

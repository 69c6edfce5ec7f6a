package sweep

import (
	"context"
	"fmt"
	"sort"

	"github.com/studio-ops/coordinator/internal/settings"
)

// SettingsDirectory enumerates organisations and apps from the settings
// store: an app only ever becomes a decommission candidate once someone
// created a settings row for it, so the store's rows are exactly the fleet
// the sweep needs to visit.
type SettingsDirectory struct {
	store settings.Store
}

// NewSettingsDirectory creates a settings-backed directory.
func NewSettingsDirectory(store settings.Store) *SettingsDirectory {
	return &SettingsDirectory{store: store}
}

// Orgs returns every organisation with at least one settings row.
func (d *SettingsDirectory) Orgs(ctx context.Context) ([]string, error) {
	rows, err := d.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate organisations: %w", err)
	}

	seen := make(map[string]bool)
	var orgs []string
	for _, row := range rows {
		if !seen[row.Org] {
			seen[row.Org] = true
			orgs = append(orgs, row.Org)
		}
	}
	sort.Strings(orgs)
	return orgs, nil
}

// Apps returns every app of the organisation with at least one settings row.
func (d *SettingsDirectory) Apps(ctx context.Context, org string) ([]string, error) {
	rows, err := d.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate apps for %s: %w", org, err)
	}

	seen := make(map[string]bool)
	var apps []string
	for _, row := range rows {
		if row.Org == org && !seen[row.App] {
			seen[row.App] = true
			apps = append(apps, row.App)
		}
	}
	sort.Strings(apps)
	return apps, nil
}

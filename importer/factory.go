package importer

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"github.com/kennangle/mbodataanalysis/config"
	"github.com/kennangle/mbodataanalysis/mindbody"
	"github.com/kennangle/mbodataanalysis/ratelimit"
)

// NewPhaseFactory returns the production PhaseFactory: it reads the
// organization's Mindbody credentials and builds the phase importers around
// a rate-limited API client. Each job gets its own client so token state
// never leaks across organizations.
func NewPhaseFactory(app core.App, settings *config.Settings) PhaseFactory {
	return func(ctx context.Context, job *Job) ([]Phase, error) {
		org, err := app.FindRecordById("organizations", job.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("loading organization %s: %w", job.OrganizationID, err)
		}

		limiterCfg := ratelimit.DefaultConfig()
		limiterCfg.APIDelay = settings.BatchDelay

		client, err := mindbody.NewClient(&mindbody.Config{
			APIKey:   org.GetString("mindbody_api_key"),
			SiteID:   org.GetString("mindbody_site_id"),
			Username: org.GetString("mindbody_username"),
			Password: org.GetString("mindbody_password"),
			BaseURL:  settings.MindbodyBaseURL,
		}, ratelimit.New(limiterCfg))
		if err != nil {
			return nil, fmt.Errorf("building API client for %s: %w", org.GetString("name"), err)
		}

		imp := NewImporter(app, client, settings, job)
		return imp.Phases(job.DataTypes), nil
	}
}

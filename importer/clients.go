package importer

import (
	"context"
	"fmt"
	"log/slog"
)

// ImportClientsBatch imports one page of clients starting at the given
// offset. The returned cursor is the next page offset; Completed is set when
// the provider's pagination envelope says there is nothing left.
func (imp *Importer) ImportClientsBatch(ctx context.Context, job *Job, offset int) (BatchResult, error) {
	page, err := imp.client.GetClientsPage(ctx, imp.settings.PageSize, offset)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetching clients page at offset %d: %w", offset, err)
	}

	existing, err := imp.preloadByField("students", "mindbody_client_id")
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{NextCursor: offset}
	if page.Pagination != nil {
		result.Total = page.Pagination.TotalResults
	}

	for _, client := range page.Results {
		clientID := asString(client["Id"])
		if clientID == "" {
			imp.stats.Errors++
			imp.recordSkip(DataTypeClients, "missing client id", client)
			continue
		}

		data := map[string]interface{}{
			"organization":       imp.orgID,
			"mindbody_client_id": clientID,
			"first_name":         asString(client["FirstName"]),
			"last_name":          asString(client["LastName"]),
			"email":              asString(client["Email"]),
			"phone":              asString(client["MobilePhone"]),
			"status":             asString(client["Status"]),
		}
		if created, ok := client["CreationDate"].(string); ok {
			if t, ok := parseProviderTime(created); ok {
				data["joined_at"] = storedTime(t)
			}
		}

		created, updated, err := imp.upsert("students", existing[clientID], data)
		if err != nil {
			slog.Error("Importing client", "clientId", clientID, "error", err)
			imp.stats.Errors++
			continue
		}
		if created {
			result.Imported++
		}
		if updated {
			result.Updated++
		}
	}

	result.NextCursor, result.Completed = page.Advance(offset)
	return result, nil
}

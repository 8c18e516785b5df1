package importer

import (
	"context"
	"fmt"
	"log/slog"
)

// Revenue source endpoints. Some provider sites expose line-item sales;
// older ones only expose flat transactions. The first batch probes which
// endpoint the site supports and the choice is persisted with job progress
// so a resumed job keeps reading from the same endpoint.
const (
	SalesSourceLineItems    = "sales"
	SalesSourceTransactions = "transactions"
)

// ImportSalesBatch imports revenue for a slice of students. Like visits,
// the cursor is an index into the student roster.
func (imp *Importer) ImportSalesBatch(ctx context.Context, job *Job, cursor int, source string) (BatchResult, error) {
	if source == "" {
		hasLineItems, err := imp.client.HasLineItemSales(ctx, job.StartDate, job.EndDate)
		if err != nil {
			return BatchResult{}, fmt.Errorf("probing sales endpoint: %w", err)
		}
		if hasLineItems {
			source = SalesSourceLineItems
		} else {
			source = SalesSourceTransactions
		}
		slog.Info("Selected revenue endpoint", "source", source)
	}

	students, err := imp.studentRoster()
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{NextCursor: cursor, Total: len(students), Source: source}
	if cursor >= len(students) {
		result.Completed = true
		return result, nil
	}

	existing, err := imp.preloadByField("revenue", "mindbody_sale_id")
	if err != nil {
		return BatchResult{}, err
	}

	end := cursor + imp.settings.StudentsPerBatch
	if end > len(students) {
		end = len(students)
	}

	for _, student := range students[cursor:end] {
		clientID := student.GetString("mindbody_client_id")

		var rows []saleRow
		if source == SalesSourceLineItems {
			sales, err := imp.client.GetClientSales(ctx, clientID, job.StartDate, job.EndDate)
			if err != nil {
				return BatchResult{}, fmt.Errorf("fetching sales for client %s: %w", clientID, err)
			}
			rows = lineItemRows(sales)
		} else {
			transactions, err := imp.client.GetClientTransactions(ctx, clientID, job.StartDate, job.EndDate)
			if err != nil {
				return BatchResult{}, fmt.Errorf("fetching transactions for client %s: %w", clientID, err)
			}
			rows = transactionRows(transactions)
		}

		for _, row := range rows {
			if row.saleID == "" {
				imp.stats.Errors++
				imp.recordSkip(DataTypeSales, "sale missing id", row.raw)
				continue
			}

			data := map[string]interface{}{
				"organization":     imp.orgID,
				"student":          student.Id,
				"mindbody_sale_id": row.saleID,
				"amount":           row.amount,
				"item_name":        row.itemName,
				"payment_method":   row.paymentMethod,
				"source":           source,
			}
			if row.saleDate != "" {
				if t, ok := parseProviderTime(row.saleDate); ok {
					data["sale_date"] = storedTime(t)
				}
			}

			created, updated, err := imp.upsert("revenue", existing[row.saleID], data)
			if err != nil {
				slog.Error("Importing sale", "clientId", clientID, "saleId", row.saleID, "error", err)
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
	}

	result.NextCursor = end
	result.Completed = end >= len(students)
	return result, nil
}

type saleRow struct {
	saleID        string
	saleDate      string
	amount        float64
	itemName      string
	paymentMethod string
	raw           map[string]interface{}
}

// lineItemRows flattens line-item sales into one revenue row per purchased
// item. Item rows get a composite id so multi-item sales stay distinct.
func lineItemRows(sales []map[string]interface{}) []saleRow {
	var rows []saleRow
	for _, sale := range sales {
		saleID := asString(sale["Id"])
		saleDate, _ := sale["SaleDateTime"].(string)
		paymentMethod := salePaymentMethod(sale)

		items, _ := sale["PurchasedItems"].([]interface{})
		if len(items) == 0 {
			rows = append(rows, saleRow{
				saleID:        saleID,
				saleDate:      saleDate,
				amount:        asFloat(sale["TotalAmount"]),
				paymentMethod: paymentMethod,
				raw:           sale,
			})
			continue
		}

		for i, rawItem := range items {
			item, ok := rawItem.(map[string]interface{})
			if !ok {
				continue
			}
			rows = append(rows, saleRow{
				saleID:        fmt.Sprintf("%s-%d", saleID, i),
				saleDate:      saleDate,
				amount:        asFloat(item["TotalAmount"]),
				itemName:      asString(item["Description"]),
				paymentMethod: paymentMethod,
				raw:           sale,
			})
		}
	}
	return rows
}

func transactionRows(transactions []map[string]interface{}) []saleRow {
	var rows []saleRow
	for _, tx := range transactions {
		saleDate, _ := tx["TransactionTime"].(string)
		rows = append(rows, saleRow{
			saleID:        asString(tx["TransactionId"]),
			saleDate:      saleDate,
			amount:        asFloat(tx["Amount"]),
			paymentMethod: asString(tx["Method"]),
			raw:           tx,
		})
	}
	return rows
}

func salePaymentMethod(sale map[string]interface{}) string {
	payments, _ := sale["Payments"].([]interface{})
	if len(payments) == 0 {
		return ""
	}
	if payment, ok := payments[0].(map[string]interface{}); ok {
		return asString(payment["Type"])
	}
	return ""
}

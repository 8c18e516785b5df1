package importer

import (
	"testing"
)

func TestLineItemRows(t *testing.T) {
	sales := []map[string]interface{}{
		{
			"Id":           float64(9001),
			"SaleDateTime": "2026-05-01T10:00:00",
			"Payments": []interface{}{
				map[string]interface{}{"Type": "Visa"},
			},
			"PurchasedItems": []interface{}{
				map[string]interface{}{"Description": "10 Class Pack", "TotalAmount": float64(180)},
				map[string]interface{}{"Description": "Water Bottle", "TotalAmount": float64(15)},
			},
		},
	}

	rows := lineItemRows(sales)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	if rows[0].saleID != "9001-0" || rows[1].saleID != "9001-1" {
		t.Errorf("item ids = %q, %q; want composite sale-item ids", rows[0].saleID, rows[1].saleID)
	}
	if rows[0].amount != 180 || rows[1].amount != 15 {
		t.Errorf("amounts = %v, %v", rows[0].amount, rows[1].amount)
	}
	if rows[0].itemName != "10 Class Pack" {
		t.Errorf("item name = %q", rows[0].itemName)
	}
	if rows[0].paymentMethod != "Visa" {
		t.Errorf("payment method = %q", rows[0].paymentMethod)
	}
}

func TestLineItemRowsWithoutItems(t *testing.T) {
	sales := []map[string]interface{}{
		{
			"Id":           float64(9002),
			"SaleDateTime": "2026-05-01T10:00:00",
			"TotalAmount":  float64(25),
		},
	}

	rows := lineItemRows(sales)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].saleID != "9002" {
		t.Errorf("sale id = %q, want the bare sale id", rows[0].saleID)
	}
	if rows[0].amount != 25 {
		t.Errorf("amount = %v, want the sale total", rows[0].amount)
	}
}

func TestTransactionRows(t *testing.T) {
	transactions := []map[string]interface{}{
		{
			"TransactionId":   float64(555),
			"TransactionTime": "2026-05-02T14:00:00",
			"Amount":          float64(49.5),
			"Method":          "Mastercard",
		},
	}

	rows := transactionRows(transactions)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.saleID != "555" || row.amount != 49.5 || row.paymentMethod != "Mastercard" {
		t.Errorf("row = %+v", row)
	}
	if row.saleDate != "2026-05-02T14:00:00" {
		t.Errorf("sale date = %q", row.saleDate)
	}
}

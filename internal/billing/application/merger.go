package application

import billing "billing-recon/internal/billing/domain"

// MergeInvoices left-joins directory attributes onto ledger rows.
// Rows keep their ledger order; unmatched customers get empty attributes.
func MergeInvoices(invoices []billing.Invoice, directory []billing.CustomerRecord) []billing.MergedInvoice {
	byID := make(map[string]billing.CustomerRecord, len(directory))
	for _, rec := range directory {
		id := billing.NormalizeCustomerID(rec.CustomerID)
		if id == "" {
			continue
		}
		if _, exists := byID[id]; !exists {
			byID[id] = rec
		}
	}

	merged := make([]billing.MergedInvoice, 0, len(invoices))
	for _, inv := range invoices {
		inv.CustomerID = billing.NormalizeCustomerID(inv.CustomerID)
		inv.DueAmount = billing.ClampAmount(inv.DueAmount)
		rec := byID[inv.CustomerID]
		merged = append(merged, billing.MergedInvoice{
			Invoice:      inv,
			Name:         rec.Name,
			Address:      rec.Address,
			MeterCode:    rec.MeterCode,
			SequenceCode: rec.SequenceCode,
		})
	}
	return merged
}

// groupByCustomer buckets merged rows per customer id, preserving row order.
func groupByCustomer(rows []billing.MergedInvoice) map[string][]billing.MergedInvoice {
	grouped := make(map[string][]billing.MergedInvoice)
	for _, row := range rows {
		if row.CustomerID == "" {
			continue
		}
		grouped[row.CustomerID] = append(grouped[row.CustomerID], row)
	}
	return grouped
}

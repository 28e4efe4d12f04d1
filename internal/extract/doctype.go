package extract

import (
	"fmt"
	"strings"
)

// DocType classifies a document segment. The set is closed.
type DocType string

const (
	General          DocType = "general"
	OrderCertificate DocType = "ordercertificate"
	WorkOrder        DocType = "workorder"
	PurchaseOrder    DocType = "purchaseorder"
)

// ParseDocType parses a folder's configured doc_type. Empty means General.
func ParseDocType(s string) (DocType, error) {
	switch DocType(strings.ToLower(strings.TrimSpace(s))) {
	case "", General:
		return General, nil
	case OrderCertificate:
		return OrderCertificate, nil
	case WorkOrder:
		return WorkOrder, nil
	case PurchaseOrder:
		return PurchaseOrder, nil
	}
	return "", fmt.Errorf("unknown doc type %q", s)
}

// ReportType returns the record-system report type uploads use.
func (d DocType) ReportType() string {
	switch d {
	case OrderCertificate:
		return "ordercertificate"
	case WorkOrder:
		return "orderdetail"
	case PurchaseOrder, General:
		return "general"
	}
	return "general"
}

package povalidate

import "strings"

// StatusInput is everything that decides a Result's status.
type StatusInput struct {
	Mismatches       int
	Missing          int
	NoPricing        bool
	ExtractionFailed bool
	Outbound         bool
}

// ResolveStatus is the only place a validation status is decided.
// Priority: fail, no_pricing, extraction_failed, skipped, pass.
func ResolveStatus(in StatusInput) Status {
	switch {
	case in.Mismatches > 0 || in.Missing > 0:
		return StatusFail
	case in.NoPricing:
		return StatusNoPricing
	case in.ExtractionFailed:
		return StatusExtractionFailed
	case in.Outbound:
		return StatusSkipped
	default:
		return StatusPass
	}
}

// IsOutboundRequest reports whether first-page text is an outgoing
// price-update request rather than a customer purchase order.
func IsOutboundRequest(firstPage string) bool {
	lower := strings.ToLower(firstPage)
	return strings.Contains(lower, "order price update") && strings.Contains(lower, "request for po")
}

// Outcome is the overall verdict stamped on an annotated copy.
type Outcome string

const (
	OutcomeApproved     Outcome = "APPROVED"
	OutcomeRejected     Outcome = "REJECTED"
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// OutcomeOf maps a result to its stamp.
func OutcomeOf(r *Result) Outcome {
	switch {
	case len(r.Mismatches) > 0:
		return OutcomeRejected
	case len(r.Missing) > 0, r.Status != StatusPass, r.HasWarnings():
		return OutcomeInconclusive
	default:
		return OutcomeApproved
	}
}

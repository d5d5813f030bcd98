package domain

// Order is the subset of the order authority's record the review pipeline needs.
type Order struct {
	ID     int64
	UserID string
	// PartnerID is nil until upstream processing assigns a fulfilling partner.
	PartnerID *string
}

// AssignedPartner returns the partner id when one is set and non-empty.
func (o *Order) AssignedPartner() (string, bool) {
	if o.PartnerID == nil || *o.PartnerID == "" {
		return "", false
	}
	return *o.PartnerID, true
}

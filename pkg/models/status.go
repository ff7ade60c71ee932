package models

// PageStatus represents the processing status of an admitted address
type PageStatus string

const (
	PageStatusUnset    PageStatus = ""          // Zero value = unset/unknown
	PageStatusPending  PageStatus = "pending"   // Admitted to the frontier, not visited yet
	PageStatusSuccess  PageStatus = "success"   // Visited successfully (member of the Done set)
	PageStatusFailure  PageStatus = "failure"   // Visit abandoned, never retried
	PageStatusNotFound PageStatus = "not_found" // Address not in the store
	PageStatusDBError  PageStatus = "db_error"  // Store lookup failed
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusPending, PageStatusSuccess, PageStatusFailure:
		return true
	}
	return false
}

// IsTerminal reports whether the address has been acknowledged by a worker
func (s PageStatus) IsTerminal() bool {
	return s == PageStatusSuccess || s == PageStatusFailure
}

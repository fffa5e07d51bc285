package domain

// MXRecord is one parsed mail-exchange answer
type MXRecord struct {
	Preference uint16 `json:"preference"`
	Exchange   string `json:"exchange"`
}

// MXResult is the outcome of resolving a domain's MX records.
//
// "No records" (HasRecords false, Failed false) and "lookup failed"
// (Failed true) are distinct outcomes; both carry little signal.
type MXResult struct {
	Domain        string     `json:"domain"`
	HasRecords    bool       `json:"has_records"`
	RecordCount   int        `json:"record_count"`
	Records       []MXRecord `json:"records,omitempty"`
	Provider      Provider   `json:"provider"`
	Failed        bool       `json:"failed"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

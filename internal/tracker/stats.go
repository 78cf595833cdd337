package tracker

// SyncStats tracks statistics for one version sync.
type SyncStats struct {
	Candidates int `json:"candidates"` // Entities eligible for creation
	Batches    int `json:"batches"`    // Bulk-create calls attempted
	Created    int `json:"created"`    // Entities reconciled to an issue (toolCreated=SUCCESS)
	Failed     int `json:"failed"`     // Entities left unmatched (toolCreated=FAILED)
	Deprecated int `json:"deprecated"` // Deprecated issues updated
	Errors     int `json:"errors"`     // Batches or items that failed
}

// SyncResult represents the result of a complete sync operation.
type SyncResult struct {
	Success  bool      `json:"success"`
	Status   Phase     `json:"status"`
	Stats    SyncStats `json:"stats"`
	Error    string    `json:"error,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// ReconcileResult is the outcome of one reconciliation pass.
type ReconcileResult struct {
	// Matched maps entity id to the issue it was correlated with.
	Matched map[string]TrackerIssue
	// Unmatched lists ids with no issue carrying their label.
	Unmatched []string
	// Ambiguous lists ids that matched more than one issue.
	Ambiguous []string
}

package domain

// Overview is the operator dashboard snapshot served by GET /v1/overview.
type Overview struct {
	Activity  ActivityStats `json:"activity"`  // нагрузка
	Risks     RiskStats     `json:"risks"`     // HITL
	Incidents IncidentStats `json:"incidents"` // блокировки и сбои
}

type ActivityStats struct {
	TotalCalls int64            `json:"total_calls"`
	TopSkills  map[string]int64 `json:"top_skills"`
}

type RiskStats struct {
	PendingApprovals   int      `json:"pending_approvals"`
	QuarantinedCallers []string `json:"quarantined_callers"`
}

type IncidentStats struct {
	DisabledSkills []string `json:"disabled_skills"`
	DeniedCalls    int64    `json:"denied_calls"`
	FailedCalls    int64    `json:"failed_calls"`
	// RiskRatio is denied / total.
	RiskRatio float64 `json:"risk_ratio"`
}

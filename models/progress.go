package models

// ProgressStatus is the lifecycle state of a scrape run
type ProgressStatus string

const (
	StatusIdle    ProgressStatus = "idle"
	StatusRunning ProgressStatus = "running"
	StatusDone    ProgressStatus = "done"
)

// ScrapeProgress reports liveness of the current orchestration run
type ScrapeProgress struct {
	Status    ProgressStatus `json:"status"`
	Total     int            `json:"total"`
	Completed int            `json:"done"`
}

// Percent returns completion in [0, 100], or -1 when the total is unknown
func (p ScrapeProgress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	pct := p.Completed * 100 / p.Total
	if pct > 100 {
		pct = 100
	}
	return pct
}

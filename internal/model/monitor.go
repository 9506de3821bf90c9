package model

// Monitor is a configured health-check target.
type Monitor struct {
	ID          string   `json:"id" db:"id"`
	WorkspaceID string   `json:"workspace_id" db:"workspace_id"`
	Name        string   `json:"name" db:"name"`
	Active      bool     `json:"active" db:"active"`
	Method      string   `json:"method" db:"method"` // "http" or "tcp"
	URL         string   `json:"url" db:"url"`
	Periodicity int      `json:"periodicity" db:"periodicity"` // seconds
	Regions     []Region `json:"regions" db:"-"`
}

// RunsIn reports whether the monitor is probed from region r.
// A monitor without explicit regions runs everywhere.
func (m Monitor) RunsIn(r Region) bool {
	if len(m.Regions) == 0 {
		return true
	}
	for _, mr := range m.Regions {
		if mr == r {
			return true
		}
	}
	return false
}

package server

import (
	"time"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
)

// PackageState is one package row of the JSON view state. Downloads is nil
// when no count has been committed for the package.
type PackageState struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Homepage    string `json:"homepage"`
	Downloads   *int64 `json:"downloads"`
}

// State is the JSON view state served by /api/state and pushed over /ws.
type State struct {
	Period      config.PeriodKey      `json:"period"`
	PeriodLabel string                `json:"periodLabel"`
	Periods     []config.PeriodOption `json:"periods"`
	Packages    []PackageState        `json:"packages"`
	Status      dashboard.Status      `json:"status"`
	Error       string                `json:"error"`
	LastUpdated *time.Time            `json:"lastUpdated"`
	IsLoading   bool                  `json:"isLoading"`
	Generation  uint64                `json:"generation"`
}

// NewState builds the view state for pkgs from snap.
func NewState(pkgs []config.TrackedPackage, snap dashboard.Snapshot) State {
	st := State{
		Period:      snap.Period,
		PeriodLabel: snap.PeriodLabel(),
		Periods:     config.Periods(),
		Packages:    make([]PackageState, 0, len(pkgs)),
		Status:      snap.Status,
		Error:       snap.Error,
		IsLoading:   snap.IsLoading(),
		Generation:  snap.Generation,
	}
	if !snap.LastUpdated.IsZero() {
		t := snap.LastUpdated.UTC()
		st.LastUpdated = &t
	}
	for _, p := range pkgs {
		ps := PackageState{Name: p.Name, DisplayName: p.DisplayName, Homepage: p.Homepage}
		if n, ok := snap.Downloads(p.Name); ok {
			ps.Downloads = &n
		}
		st.Packages = append(st.Packages, ps)
	}
	return st
}

// stateMessage is the websocket envelope.
type stateMessage struct {
	Type  string `json:"type"`
	State State  `json:"state"`
}

package web

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwestcott/b24import/internal/importer"
)

// RunState describes one run tracked by the server.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// RunView is the JSON representation of a run's current state.
type RunView struct {
	ID         uuid.UUID         `json:"id"`
	FileName   string            `json:"fileName"`
	State      RunState          `json:"state"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	RowsDone   int               `json:"rowsDone"`
	LastRow    int               `json:"lastRow,omitempty"`
	Summary    *importer.Summary `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type run struct {
	view       RunView
	ledgerPath string
}

// registry tracks import runs in memory. The CRM endpoint is shared
// mutable state with a hard rate limit, so at most one run may be
// active at a time; concurrent starts are rejected, not queued.
type registry struct {
	mu     sync.Mutex
	active *run
	runs   map[uuid.UUID]*run
	order  []uuid.UUID // insertion order, oldest first
}

func newRegistry() *registry {
	return &registry{runs: make(map[uuid.UUID]*run)}
}

// begin registers a new active run. It fails when another run is still
// in flight.
func (g *registry) begin(id uuid.UUID, fileName, ledgerPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil {
		return fmt.Errorf("run %s is already in progress", g.active.view.ID)
	}

	r := &run{
		view: RunView{
			ID:        id,
			FileName:  fileName,
			State:     RunRunning,
			StartedAt: time.Now(),
		},
		ledgerPath: ledgerPath,
	}
	g.active = r
	g.runs[id] = r
	g.order = append(g.order, id)
	return nil
}

// progress records one processed row for the active run.
func (g *registry) progress(id uuid.UUID, p importer.Progress) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.runs[id]; ok {
		r.view.RowsDone++
		r.view.LastRow = p.Ordinal
	}
}

// finish marks a run as completed or failed and releases the active slot.
func (g *registry) finish(id uuid.UUID, sum *importer.Summary, runErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.runs[id]
	if !ok {
		return
	}

	now := time.Now()
	r.view.FinishedAt = &now
	r.view.Summary = sum
	if runErr != nil {
		r.view.State = RunFailed
		r.view.Error = runErr.Error()
	} else {
		r.view.State = RunCompleted
	}

	if g.active != nil && g.active.view.ID == id {
		g.active = nil
	}
}

// get returns a snapshot of one run.
func (g *registry) get(id uuid.UUID) (RunView, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.runs[id]
	if !ok {
		return RunView{}, "", false
	}
	return r.view, r.ledgerPath, true
}

// list returns snapshots of all runs this process has seen, newest first.
func (g *registry) list() []RunView {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]RunView, 0, len(g.order))
	for i := len(g.order) - 1; i >= 0; i-- {
		out = append(out, g.runs[g.order[i]].view)
	}
	return out
}

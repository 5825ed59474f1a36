package preset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/eventbus"
)

// Runner executes ensure_state parameters. *control.Service satisfies it.
type Runner interface {
	EnsureState(ctx context.Context, p control.Params, source string) (ensure.OperationResult, error)
}

// Activation is published on the bus after every preset run.
type Activation struct {
	Preset Preset
	Result ensure.OperationResult
}

// Manager activates presets and tracks their in-process status.
type Manager struct {
	store  *Store
	runner Runner
	reader ensure.StateReader
	bus    *eventbus.Bus

	mu     sync.Mutex
	status map[string]ActivationStatus
	now    func() time.Time
}

// NewManager creates a manager. bus may be nil.
func NewManager(store *Store, runner Runner, reader ensure.StateReader, bus *eventbus.Bus) *Manager {
	return &Manager{
		store:  store,
		runner: runner,
		reader: reader,
		bus:    bus,
		status: make(map[string]ActivationStatus),
		now:    time.Now,
	}
}

// Store returns the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// Activate runs the preset identified by id, name or slug.
func (m *Manager) Activate(ctx context.Context, nameOrID string) (ensure.OperationResult, error) {
	p, err := m.store.Find(ctx, nameOrID)
	if err != nil {
		return ensure.OperationResult{}, err
	}

	log.Info().Str("preset", p.Name).Str("id", p.ID).Msg("Activating preset")
	m.setStatus(p.ID, StatusActivating, nil)

	res, err := m.runner.EnsureState(ctx, p.Params, "preset:"+p.ID)
	if err != nil {
		m.setStatus(p.ID, StatusFailed, nil)
		return ensure.OperationResult{}, fmt.Errorf("activate preset %q: %w", p.Name, err)
	}

	if res.Success {
		m.setStatus(p.ID, StatusSuccess, &res)
	} else {
		m.setStatus(p.ID, StatusFailed, &res)
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypePresetActivated,
			Data: Activation{Preset: p, Result: res},
		})
	}
	return res, nil
}

// Capture reads the devices' present state and stores it as a new preset.
func (m *Manager) Capture(ctx context.Context, name string, ids []string) (Preset, error) {
	p, err := FromCurrent(ctx, m.reader, name, ids)
	if err != nil {
		return Preset{}, fmt.Errorf("capture %q: %w", name, err)
	}
	created, err := m.store.Create(ctx, p)
	if err != nil {
		return Preset{}, err
	}
	log.Info().Str("preset", created.Name).Int("entities", len(ids)).Str("state", created.State).Msg("Created preset from current state")
	return created, nil
}

// Delete removes the preset and forgets its status.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.status, id)
	m.mu.Unlock()
	return nil
}

// Status returns the activation status of a preset; idle if never run.
func (m *Manager) Status(id string) ActivationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.status[id]; ok {
		return st
	}
	return ActivationStatus{Status: StatusIdle}
}

// Summaries returns the diagnostics view of every preset.
func (m *Manager) Summaries(ctx context.Context) ([]Summary, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(all))
	for _, p := range all {
		s := Summary{
			ID:          p.ID,
			Name:        p.Name,
			EntityCount: len(p.EntityID),
			State:       p.State,
			HasTargets:  len(p.Targets) > 0,
			Status:      m.Status(p.ID).Status,
		}
		if p.SkipVerification != nil {
			s.SkipVerification = *p.SkipVerification
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Manager) setStatus(id string, status Status, res *ensure.OperationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status[id]
	st.Status = status
	if res != nil {
		r := *res
		st.LastResult = &r
	}
	if status == StatusSuccess || status == StatusFailed {
		t := m.now()
		st.LastActivated = &t
	}
	m.status[id] = st
}

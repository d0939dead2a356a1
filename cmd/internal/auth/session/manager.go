package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"unisession/cmd/identity"
	"unisession/cmd/internal/kv"
	"unisession/cmd/internal/metrics"
)

// Manager owns the current canonical session.
//
// Refresh calls are serialized and always read the markers as they are at
// invocation time. Handlers run while Refresh holds its lock, so a handler
// must not call Refresh synchronously.
type Manager struct {
	kv      kv.Store
	bc      *Broadcaster
	log     *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[identity.CanonicalSession]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) ManagerOption {
	return func(m *Manager) { m.metrics = metrics.OrNoop(r) }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager with no current session. Call Refresh to
// rehydrate from persisted state.
func NewManager(store kv.Store, bc *Broadcaster, opts ...ManagerOption) *Manager {
	m := &Manager{
		kv:      store,
		bc:      bc,
		log:     slog.Default(),
		metrics: metrics.NoopRecorder{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bc == nil {
		m.bc = NewBroadcaster(m.log, m.metrics)
	}
	return m
}

// Broadcaster returns the broadcaster notified on identity changes.
func (m *Manager) Broadcaster() *Broadcaster { return m.bc }

// Current returns a copy of the current session, or nil.
func (m *Manager) Current() *identity.CanonicalSession {
	cur := m.current.Load()
	if cur == nil {
		return nil
	}
	cp := *cur
	return &cp
}

// Refresh re-reads every marker, resolves, publishes the result and notifies
// subscribers when SubjectID or Source changed. On a storage read error the
// current session is left as it was.
func (m *Manager) Refresh(ctx context.Context) (*identity.CanonicalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, err := m.Load(ctx)
	if err != nil {
		return m.Current(), err
	}

	next := Resolve(in, m.now())
	prev := m.current.Swap(next)

	if !identity.SameIdentity(prev, next) {
		m.log.Info("session.changed",
			"from", describe(prev),
			"to", describe(next),
		)
		m.bc.Publish(Event{Previous: copyOf(prev), Current: copyOf(next)})
	}
	return m.Current(), nil
}

// Load reads the three markers. Missing or undecodable records are absent.
func (m *Manager) Load(ctx context.Context) (Inputs, error) {
	var in Inputs

	fed, err := loadMarker[FederatedMarker](ctx, m, kv.KeyFederatedSession)
	if err != nil {
		return Inputs{}, err
	}
	in.Federated = fed

	rem, err := loadMarker[RemoteMarker](ctx, m, kv.KeyRemoteSession)
	if err != nil {
		return Inputs{}, err
	}
	in.Remote = rem

	loc, err := loadMarker[LocalMarker](ctx, m, kv.KeyLocalSession)
	if err != nil {
		return Inputs{}, err
	}
	in.Local = loc

	return in, nil
}

func loadMarker[T any](ctx context.Context, m *Manager, key string) (*T, error) {
	raw, err := m.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		m.metrics.StorageCorrupt(key)
		m.log.Error("session.resolve.storage_corrupt",
			"key", key,
			"err", identity.OpError{Op: "session.Load", Kind: identity.ErrStorageCorrupt, Msg: err.Error()},
		)
		return nil, nil
	}
	return &v, nil
}

// PutFederated stores (or, for nil, clears) the federated marker.
func (m *Manager) PutFederated(ctx context.Context, f *FederatedMarker) error {
	if f == nil {
		return m.Clear(ctx, kv.KeyFederatedSession)
	}
	return m.put(ctx, kv.KeyFederatedSession, f)
}

// PutRemote stores a remote grant.
func (m *Manager) PutRemote(ctx context.Context, r RemoteMarker) error {
	return m.put(ctx, kv.KeyRemoteSession, r)
}

// PutLocal stores the local login marker.
func (m *Manager) PutLocal(ctx context.Context, l LocalMarker) error {
	return m.put(ctx, kv.KeyLocalSession, l)
}

// Clear deletes the given marker keys.
func (m *Manager) Clear(ctx context.Context, keys ...string) error {
	if err := m.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

func (m *Manager) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	if err := m.kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("session: store %s: %w", key, err)
	}
	return nil
}

// Watch refreshes every interval until ctx is done. It compensates for writers
// outside this process sharing the same backend (redis, postgres); in-process
// changes are already broadcast by the operations that make them.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("session.watch.refresh_failed", "err", err)
			}
		}
	}
}

func copyOf(s *identity.CanonicalSession) *identity.CanonicalSession {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func describe(s *identity.CanonicalSession) string {
	if s == nil {
		return "none"
	}
	return string(s.Source) + ":" + s.SubjectID
}

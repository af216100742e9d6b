// Package memory provides an in-memory Store for tests and development.
// Tenant transactions are simulated with per-organization serialization
// and snapshot rollback; checkpoints and events do not survive a process
// restart, so crash recovery guarantees only hold with a durable backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/billing"
	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/transition"
	"github.com/stepwise-io/stepwise/workflow"
)

type txKey struct{}

// tx marks a context as carrying an open tenant transaction.
type tx struct {
	scope tenant.Scope
}

// Store is the in-memory backend. All entity maps store private copies;
// getters return copies, so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	closed bool

	runs        map[string]*workflow.Run                  // by idempotency key
	checkpoints map[string]map[string]*workflow.Checkpoint // runKey -> stepName
	events      map[string]map[event.Topic][]*event.Event // workflowKey -> topic

	// Tenant-scoped data, covered by snapshot rollback.
	transitions map[string][]*transition.Record // entityType/entityID
	estimates   map[string]*billing.Estimate
	invoices    map[string]*billing.Invoice
	payments    map[string][]*billing.Payment // by invoice id
	violations  map[string]*billing.Violation
	hearings    map[string]*billing.Hearing
	proposals   map[string]*billing.Proposal

	// orgMu serializes tenant transactions per organization.
	orgMuMu sync.Mutex
	orgMu   map[string]*sync.Mutex
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs:        make(map[string]*workflow.Run),
		checkpoints: make(map[string]map[string]*workflow.Checkpoint),
		events:      make(map[string]map[event.Topic][]*event.Event),
		transitions: make(map[string][]*transition.Record),
		estimates:   make(map[string]*billing.Estimate),
		invoices:    make(map[string]*billing.Invoice),
		payments:    make(map[string][]*billing.Payment),
		violations:  make(map[string]*billing.Violation),
		hearings:    make(map[string]*billing.Hearing),
		proposals:   make(map[string]*billing.Proposal),
		orgMu:       make(map[string]*sync.Mutex),
	}
}

// Migrate is a no-op for the in-memory backend.
func (s *Store) Migrate(ctx context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return stepwise.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ── workflow.Store ──

func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stepwise.ErrStoreClosed
	}
	if _, exists := s.runs[run.Key]; exists {
		return stepwise.ErrRunExists
	}
	s.runs[run.Key] = cloneRun(run)
	return nil
}

func (s *Store) GetRun(ctx context.Context, key string) (*workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, stepwise.ErrStoreClosed
	}
	run, ok := s.runs[key]
	if !ok {
		return nil, stepwise.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stepwise.ErrStoreClosed
	}
	if _, ok := s.runs[run.Key]; !ok {
		return stepwise.ErrRunNotFound
	}
	s.runs[run.Key] = cloneRun(run)
	return nil
}

func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, stepwise.ErrStoreClosed
	}

	var out []*workflow.Run
	for _, run := range s.runs {
		if opts.State != "" && run.State != opts.State {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, runKey, stepName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stepwise.ErrStoreClosed
	}

	steps := s.checkpoints[runKey]
	if steps == nil {
		steps = make(map[string]*workflow.Checkpoint)
		s.checkpoints[runKey] = steps
	}
	if _, exists := steps[stepName]; exists {
		// First write wins.
		return nil
	}
	steps[stepName] = &workflow.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunKey:    runKey,
		StepName:  stepName,
		Seq:       len(steps) + 1,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *Store) GetCheckpoint(ctx context.Context, runKey, stepName string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, stepwise.ErrStoreClosed
	}
	cp, ok := s.checkpoints[runKey][stepName]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), cp.Data...), true, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, runKey string) ([]*workflow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, stepwise.ErrStoreClosed
	}

	var out []*workflow.Checkpoint
	for _, cp := range s.checkpoints[runKey] {
		c := *cp
		c.Data = append([]byte(nil), cp.Data...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, stepwise.ErrStoreClosed
	}

	var purged int64
	for key, run := range s.runs {
		if !run.State.Terminal() || run.CompletedAt == nil || !run.CompletedAt.Before(before) {
			continue
		}
		delete(s.runs, key)
		delete(s.checkpoints, key)
		delete(s.events, key)
		purged++
	}
	return purged, nil
}

// ── event.Store ──

func (s *Store) AppendEvent(ctx context.Context, workflowKey string, topic event.Topic, payload []byte) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stepwise.ErrStoreClosed
	}

	topics := s.events[workflowKey]
	if topics == nil {
		topics = make(map[event.Topic][]*event.Event)
		s.events[workflowKey] = topics
	}
	evt := &event.Event{
		ID:          id.NewEventID(),
		WorkflowKey: workflowKey,
		Topic:       topic,
		Seq:         int64(len(topics[topic]) + 1),
		Payload:     append([]byte(nil), payload...),
		RecordedAt:  time.Now().UTC(),
	}
	topics[topic] = append(topics[topic], evt)

	out := *evt
	out.Payload = append([]byte(nil), evt.Payload...)
	return &out, nil
}

func (s *Store) ReadEvent(ctx context.Context, workflowKey string, topic event.Topic, fromSeq int64) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, stepwise.ErrStoreClosed
	}

	for _, evt := range s.events[workflowKey][topic] {
		if evt.Seq >= fromSeq {
			out := *evt
			out.Payload = append([]byte(nil), evt.Payload...)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) LatestEvent(ctx context.Context, workflowKey string, topic event.Topic) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, stepwise.ErrStoreClosed
	}

	stream := s.events[workflowKey][topic]
	if len(stream) == 0 {
		return nil, nil
	}
	evt := stream[len(stream)-1]
	out := *evt
	out.Payload = append([]byte(nil), evt.Payload...)
	return &out, nil
}

// ── tenant.Runner ──

// InTenant serializes transactions per organization and simulates
// rollback by snapshotting the organization's rows before running fn.
// Only that organization's rows are restored on rollback, so a failed
// transaction never discards writes another tenant committed while it
// was open. Copy-on-write entity storage makes the shallow snapshot
// sufficient: rolled-back writes only ever replaced map entries.
func (s *Store) InTenant(ctx context.Context, scope tenant.Scope, fn func(ctx context.Context) error) (err error) {
	if !scope.Valid() {
		return stepwise.ErrNoTenantScope
	}
	if err := s.Ping(ctx); err != nil {
		return err
	}

	mu := s.lockOrg(scope.OrgID)
	mu.Lock()
	defer mu.Unlock()

	snap := s.snapshotOrg(scope.OrgID)
	txCtx := context.WithValue(tenant.WithScope(ctx, scope), txKey{}, &tx{scope: scope})

	defer func() {
		if p := recover(); p != nil {
			s.restoreOrg(scope.OrgID, snap)
			panic(p)
		}
		if err != nil {
			s.restoreOrg(scope.OrgID, snap)
		}
	}()

	return fn(txCtx)
}

func (s *Store) lockOrg(orgID string) *sync.Mutex {
	s.orgMuMu.Lock()
	defer s.orgMuMu.Unlock()
	mu, ok := s.orgMu[orgID]
	if !ok {
		mu = &sync.Mutex{}
		s.orgMu[orgID] = mu
	}
	return mu
}

type snapshot struct {
	transitions map[string][]*transition.Record
	estimates   map[string]*billing.Estimate
	invoices    map[string]*billing.Invoice
	payments    map[string][]*billing.Payment
	violations  map[string]*billing.Violation
	hearings    map[string]*billing.Hearing
	proposals   map[string]*billing.Proposal
}

// A transition slice and a payment slice each hang off a single entity,
// and an entity belongs to exactly one org, so checking the first
// element decides ownership of the whole slice.

func ownsRecords(orgID string) func([]*transition.Record) bool {
	return func(recs []*transition.Record) bool { return len(recs) > 0 && recs[0].OrgID == orgID }
}

func ownsPayments(orgID string) func([]*billing.Payment) bool {
	return func(ps []*billing.Payment) bool { return len(ps) > 0 && ps[0].OrgID == orgID }
}

// snapshotOrg captures only the given organization's rows. Entity
// writes replace whole map entries, so sharing row pointers with the
// live maps is safe.
func (s *Store) snapshotOrg(orgID string) *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &snapshot{
		transitions: filterMap(s.transitions, ownsRecords(orgID)),
		estimates:   filterMap(s.estimates, func(e *billing.Estimate) bool { return e.OrgID == orgID }),
		invoices:    filterMap(s.invoices, func(i *billing.Invoice) bool { return i.OrgID == orgID }),
		payments:    filterMap(s.payments, ownsPayments(orgID)),
		violations:  filterMap(s.violations, func(v *billing.Violation) bool { return v.OrgID == orgID }),
		hearings:    filterMap(s.hearings, func(h *billing.Hearing) bool { return h.OrgID == orgID }),
		proposals:   filterMap(s.proposals, func(p *billing.Proposal) bool { return p.OrgID == orgID }),
	}
}

// restoreOrg drops the organization's rows and reinstalls the snapshot.
// Rows belonging to other organizations are left untouched, including
// ones committed while this transaction was open.
func (s *Store) restoreOrg(orgID string, snap *snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	restoreMap(s.transitions, snap.transitions, ownsRecords(orgID))
	restoreMap(s.estimates, snap.estimates, func(e *billing.Estimate) bool { return e.OrgID == orgID })
	restoreMap(s.invoices, snap.invoices, func(i *billing.Invoice) bool { return i.OrgID == orgID })
	restoreMap(s.payments, snap.payments, ownsPayments(orgID))
	restoreMap(s.violations, snap.violations, func(v *billing.Violation) bool { return v.OrgID == orgID })
	restoreMap(s.hearings, snap.hearings, func(h *billing.Hearing) bool { return h.OrgID == orgID })
	restoreMap(s.proposals, snap.proposals, func(p *billing.Proposal) bool { return p.OrgID == orgID })
}

func filterMap[V any](m map[string]V, owned func(V) bool) map[string]V {
	out := make(map[string]V)
	for k, v := range m {
		if owned(v) {
			out[k] = v
		}
	}
	return out
}

func restoreMap[V any](live, snap map[string]V, owned func(V) bool) {
	for k, v := range live {
		if owned(v) {
			delete(live, k)
		}
	}
	for k, v := range snap {
		live[k] = v
	}
}

// scopeFrom rejects calls made outside InTenant.
func scopeFrom(ctx context.Context) (tenant.Scope, error) {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok {
		return tenant.Scope{}, stepwise.ErrNoTenantScope
	}
	return t.scope, nil
}

// ── transition.RecordStore ──

func transitionKey(et transition.EntityType, entityID string) string {
	return string(et) + "/" + entityID
}

func (s *Store) AppendTransition(ctx context.Context, rec *transition.Record) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	if r.OrgID == "" {
		r.OrgID = scope.OrgID
	}
	key := transitionKey(r.EntityType, r.EntityID)
	s.transitions[key] = append(append([]*transition.Record(nil), s.transitions[key]...), &r)
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, et transition.EntityType, entityID string) ([]*transition.Record, error) {
	if _, err := scopeFrom(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.transitions[transitionKey(et, entityID)]
	out := make([]*transition.Record, len(recs))
	for i, r := range recs {
		c := *r
		out[i] = &c
	}
	return out, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/advisly/session-core/internal/record"
)

// Memory is an in-memory store implementing every collection interface.
// It backs unit tests and the session simulator; watch notifications use
// channel fan-out so subscription-driven flows behave like the real feed.
type Memory struct {
	mu sync.RWMutex

	sessions        map[string]*record.SessionRecord
	fixedSlot       map[string]*record.BookingRecord
	onDemand        map[string]*record.BookingRecord
	profiles        map[string]*record.AdvisorProfile
	wallets         map[string]*record.WalletSnapshot
	reconciliations map[string]*record.ReconciliationRecord

	statusSubs map[string]map[int]chan record.SessionStatus
	reconSubs  map[string]map[int]chan record.ReconciliationRecord
	nextSubID  int

	failures map[string]error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:        make(map[string]*record.SessionRecord),
		fixedSlot:       make(map[string]*record.BookingRecord),
		onDemand:        make(map[string]*record.BookingRecord),
		profiles:        make(map[string]*record.AdvisorProfile),
		wallets:         make(map[string]*record.WalletSnapshot),
		reconciliations: make(map[string]*record.ReconciliationRecord),
		statusSubs:      make(map[string]map[int]chan record.SessionStatus),
		reconSubs:       make(map[string]map[int]chan record.ReconciliationRecord),
		failures:        make(map[string]error),
	}
}

// Operation names accepted by Fail.
const (
	OpSessionGet   = "session_get"
	OpUpsert       = "upsert"
	OpPatch        = "patch"
	OpHeartbeat    = "heartbeat"
	OpFixedSlot    = "fixed_slot"
	OpOnDemand     = "on_demand"
	OpFindFixed    = "find_fixed"
	OpFindOnDemand = "find_on_demand"
	OpProfile      = "profile"
	OpWallet       = "wallet"
)

// Fail makes the named operation return err until cleared with a nil err.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) failure(op string) error {
	return m.failures[op]
}

// Get implements SessionStore.
func (m *Memory) Get(ctx context.Context, id string) (*record.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpSessionGet); err != nil {
		return nil, err
	}
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Upsert implements SessionStore.
func (m *Memory) Upsert(ctx context.Context, rec *record.SessionRecord) error {
	m.mu.Lock()
	if err := m.failure(OpUpsert); err != nil {
		m.mu.Unlock()
		return err
	}
	prev := m.sessions[rec.ID]
	cp := *rec
	m.sessions[rec.ID] = &cp
	notify := prev == nil || prev.Status != cp.Status
	status := cp.Status
	id := cp.ID
	m.mu.Unlock()

	if notify {
		m.notifyStatus(id, status)
	}
	return nil
}

// Patch implements SessionStore. Fields are keyed by JSON name and merged
// into the stored document, creating it when absent.
func (m *Memory) Patch(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	if err := m.failure(OpPatch); err != nil {
		m.mu.Unlock()
		return err
	}

	base := []byte(`{}`)
	if prev, ok := m.sessions[id]; ok {
		var err error
		base, err = json.Marshal(prev)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("marshal session %s: %w", id, err)
		}
	}
	var err error
	base, err = sjson.SetBytes(base, "id", id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for k, v := range fields {
		base, err = sjson.SetBytes(base, k, v)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("patch field %s: %w", k, err)
		}
	}

	var merged record.SessionRecord
	if err := json.Unmarshal(base, &merged); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("unmarshal patched session %s: %w", id, err)
	}

	prev := m.sessions[id]
	m.sessions[id] = &merged
	notify := prev == nil || prev.Status != merged.Status
	status := merged.Status
	m.mu.Unlock()

	if notify {
		m.notifyStatus(id, status)
	}
	return nil
}

// SetHeartbeat implements SessionStore.
func (m *Memory) SetHeartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpHeartbeat); err != nil {
		return err
	}
	rec, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	rec.LastHeartbeatAt = &t
	return nil
}

// WatchStatus implements SessionStore.
func (m *Memory) WatchStatus(ctx context.Context, id string) (<-chan record.SessionStatus, error) {
	ch := make(chan record.SessionStatus, 8)

	m.mu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	if m.statusSubs[id] == nil {
		m.statusSubs[id] = make(map[int]chan record.SessionStatus)
	}
	m.statusSubs[id][subID] = ch
	if rec, ok := m.sessions[id]; ok {
		ch <- rec.Status
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.statusSubs[id], subID)
		m.mu.Unlock()
	}()

	return ch, nil
}

func (m *Memory) notifyStatus(id string, status record.SessionStatus) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.statusSubs[id] {
		select {
		case ch <- status:
		default:
		}
	}
}

// FixedSlot implements BookingStore.
func (m *Memory) FixedSlot(ctx context.Context, bookingID string) (*record.BookingRecord, error) {
	return m.booking(OpFixedSlot, m.fixedSlot, bookingID)
}

// OnDemand implements BookingStore.
func (m *Memory) OnDemand(ctx context.Context, bookingID string) (*record.BookingRecord, error) {
	return m.booking(OpOnDemand, m.onDemand, bookingID)
}

func (m *Memory) booking(op string, coll map[string]*record.BookingRecord, id string) (*record.BookingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(op); err != nil {
		return nil, err
	}
	b, ok := coll[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// FindLiveFixedSlot implements BookingStore.
func (m *Memory) FindLiveFixedSlot(ctx context.Context, studentID, advisorID string) (*record.BookingRecord, error) {
	return m.findLive(OpFindFixed, m.fixedSlot, studentID, advisorID)
}

// FindLiveOnDemand implements BookingStore.
func (m *Memory) FindLiveOnDemand(ctx context.Context, studentID, advisorID string) (*record.BookingRecord, error) {
	return m.findLive(OpFindOnDemand, m.onDemand, studentID, advisorID)
}

func (m *Memory) findLive(op string, coll map[string]*record.BookingRecord, studentID, advisorID string) (*record.BookingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(op); err != nil {
		return nil, err
	}
	var best *record.BookingRecord
	for _, b := range coll {
		if b.StudentID != studentID || b.AdvisorID != advisorID || !b.Live() {
			continue
		}
		if best == nil || b.CreatedAt.After(best.CreatedAt) {
			best = b
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// Profile implements AdvisorStore.
func (m *Memory) Profile(ctx context.Context, advisorID string) (*record.AdvisorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpProfile); err != nil {
		return nil, err
	}
	p, ok := m.profiles[advisorID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Snapshot implements WalletStore.
func (m *Memory) Snapshot(ctx context.Context, userID string) (*record.WalletSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpWallet); err != nil {
		return nil, err
	}
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	cp.FetchedAt = time.Now()
	return &cp, nil
}

// Watch implements ReconciliationStore.
func (m *Memory) Watch(ctx context.Context, bookingID string) (<-chan record.ReconciliationRecord, error) {
	key := record.ReconciliationKey(bookingID)
	ch := make(chan record.ReconciliationRecord, 8)

	m.mu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	if m.reconSubs[key] == nil {
		m.reconSubs[key] = make(map[int]chan record.ReconciliationRecord)
	}
	m.reconSubs[key][subID] = ch
	if rec, ok := m.reconciliations[key]; ok {
		ch <- *rec
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.reconSubs[key], subID)
		m.mu.Unlock()
	}()

	return ch, nil
}

// Seeding helpers for tests and the simulator.

// PutFixedSlot stores a fixed-slot booking.
func (m *Memory) PutFixedSlot(b record.BookingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixedSlot[b.BookingID] = &b
}

// PutOnDemand stores an on-demand booking.
func (m *Memory) PutOnDemand(b record.BookingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDemand[b.BookingID] = &b
}

// PutProfile stores an advisor profile.
func (m *Memory) PutProfile(p record.AdvisorProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.AdvisorID] = &p
}

// PutWallet stores a wallet balance.
func (m *Memory) PutWallet(w record.WalletSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.UserID] = &w
}

// PutReconciliation stores a completion record and notifies watchers,
// standing in for the backend billing function.
func (m *Memory) PutReconciliation(bookingID string, rec record.ReconciliationRecord) {
	key := record.ReconciliationKey(bookingID)
	rec.Key = key

	m.mu.Lock()
	m.reconciliations[key] = &rec
	subs := make([]chan record.ReconciliationRecord, 0, len(m.reconSubs[key]))
	for _, ch := range m.reconSubs[key] {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

var (
	_ SessionStore        = (*Memory)(nil)
	_ BookingStore        = (*Memory)(nil)
	_ AdvisorStore        = (*Memory)(nil)
	_ WalletStore         = (*Memory)(nil)
	_ ReconciliationStore = (*Memory)(nil)
)

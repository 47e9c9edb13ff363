package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"
	"github.com/tidwall/gjson"

	"github.com/advisly/session-core/internal/record"
)

// Table names in the hosted store. Session documents for all three channel
// kinds live in one collection; the record carries its own kind.
const (
	tableSessions        = "sessions"
	tableFixedSlots      = "fixed_slot_bookings"
	tableOnDemand        = "on_demand_bookings"
	tableAdvisorProfiles = "advisor_profiles"
	tableWallets         = "wallets"
	tableReconciliations = "reconciliations"
)

// SupabaseConfig holds connection settings for the hosted store.
type SupabaseConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Validate checks the supabase configuration.
func (c *SupabaseConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("store.url is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("store.api_key is required")
	}
	return nil
}

// Supabase implements every collection interface against the hosted store:
// PostgREST for reads and writes, the realtime change feed for watches.
type Supabase struct {
	client *supabase.Client
	feed   *changeFeed
}

// NewSupabase creates a store client for the hosted backend.
func NewSupabase(cfg SupabaseConfig) (*Supabase, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Supabase{
		client: client,
		feed:   newChangeFeed(cfg.URL, cfg.APIKey),
	}, nil
}

// Get implements SessionStore.
func (s *Supabase) Get(ctx context.Context, id string) (*record.SessionRecord, error) {
	var recs []record.SessionRecord
	_, err := s.client.From(tableSessions).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&recs)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	rec := &recs[0]
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert implements SessionStore.
func (s *Supabase) Upsert(ctx context.Context, rec *record.SessionRecord) error {
	rec.Version = record.SchemaVersion
	_, _, err := s.client.From(tableSessions).
		Insert(rec, true, "id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

// Patch implements SessionStore. Only the given columns are written, so a
// racing full write from the other participant keeps its disjoint fields.
func (s *Supabase) Patch(ctx context.Context, id string, fields map[string]any) error {
	var updated []record.SessionRecord
	_, err := s.client.From(tableSessions).
		Update(fields, "", "").
		Eq("id", id).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("patch session %s: %w", id, err)
	}
	if len(updated) > 0 {
		return nil
	}

	// Row absent: create it from the patch alone.
	_, _, err = s.client.From(tableSessions).
		Insert(insertPayload(id, fields), true, "id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("create session %s from patch: %w", id, err)
	}
	return nil
}

// insertPayload builds the create-from-patch row without touching the
// caller's map; callers reuse their fields across write retries.
func insertPayload(id string, fields map[string]any) map[string]any {
	row := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		row[k] = v
	}
	row["id"] = id
	row["schema_version"] = record.SchemaVersion
	return row
}

// SetHeartbeat implements SessionStore.
func (s *Supabase) SetHeartbeat(ctx context.Context, id string, at time.Time) error {
	fields := map[string]any{"last_heartbeat_at": at.UTC().Format(time.RFC3339)}
	var updated []record.SessionRecord
	_, err := s.client.From(tableSessions).
		Update(fields, "", "").
		Eq("id", id).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("heartbeat session %s: %w", id, err)
	}
	if len(updated) == 0 {
		return ErrNotFound
	}
	return nil
}

// WatchStatus implements SessionStore via the realtime change feed.
func (s *Supabase) WatchStatus(ctx context.Context, id string) (<-chan record.SessionStatus, error) {
	rows, err := s.feed.Subscribe(ctx, tableSessions, "id", id)
	if err != nil {
		return nil, err
	}

	out := make(chan record.SessionStatus, 8)
	go func() {
		defer close(out)
		var last record.SessionStatus
		for row := range rows {
			status := record.SessionStatus(gjson.GetBytes(row, "status").String())
			if status == "" || status == last {
				continue
			}
			last = status
			select {
			case out <- status:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FixedSlot implements BookingStore.
func (s *Supabase) FixedSlot(ctx context.Context, bookingID string) (*record.BookingRecord, error) {
	return s.bookingByID(tableFixedSlots, bookingID)
}

// OnDemand implements BookingStore.
func (s *Supabase) OnDemand(ctx context.Context, bookingID string) (*record.BookingRecord, error) {
	return s.bookingByID(tableOnDemand, bookingID)
}

func (s *Supabase) bookingByID(table, bookingID string) (*record.BookingRecord, error) {
	var recs []record.BookingRecord
	_, err := s.client.From(table).
		Select("*", "", false).
		Eq("booking_id", bookingID).
		ExecuteTo(&recs)
	if err != nil {
		return nil, fmt.Errorf("get booking %s from %s: %w", bookingID, table, err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	b := &recs[0]
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// FindLiveFixedSlot implements BookingStore.
func (s *Supabase) FindLiveFixedSlot(ctx context.Context, studentID, advisorID string) (*record.BookingRecord, error) {
	return s.findLive(tableFixedSlots, studentID, advisorID)
}

// FindLiveOnDemand implements BookingStore.
func (s *Supabase) FindLiveOnDemand(ctx context.Context, studentID, advisorID string) (*record.BookingRecord, error) {
	return s.findLive(tableOnDemand, studentID, advisorID)
}

func (s *Supabase) findLive(table, studentID, advisorID string) (*record.BookingRecord, error) {
	live := []string{string(record.BookingAccepted), string(record.BookingPending)}
	var recs []record.BookingRecord
	_, err := s.client.From(table).
		Select("*", "", false).
		Eq("student_id", studentID).
		Eq("advisor_id", advisorID).
		In("booking_status", live).
		ExecuteTo(&recs)
	if err != nil {
		return nil, fmt.Errorf("find live booking in %s: %w", table, err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}

	best := &recs[0]
	for i := range recs[1:] {
		if recs[i+1].CreatedAt.After(best.CreatedAt) {
			best = &recs[i+1]
		}
	}
	if err := best.Validate(); err != nil {
		return nil, err
	}
	return best, nil
}

// Profile implements AdvisorStore.
func (s *Supabase) Profile(ctx context.Context, advisorID string) (*record.AdvisorProfile, error) {
	var profiles []record.AdvisorProfile
	_, err := s.client.From(tableAdvisorProfiles).
		Select("*", "", false).
		Eq("advisor_id", advisorID).
		ExecuteTo(&profiles)
	if err != nil {
		return nil, fmt.Errorf("get advisor profile %s: %w", advisorID, err)
	}
	if len(profiles) == 0 {
		return nil, ErrNotFound
	}
	p := &profiles[0]
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot implements WalletStore.
func (s *Supabase) Snapshot(ctx context.Context, userID string) (*record.WalletSnapshot, error) {
	var wallets []record.WalletSnapshot
	_, err := s.client.From(tableWallets).
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&wallets)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	if len(wallets) == 0 {
		return nil, ErrNotFound
	}
	w := wallets[0]
	w.FetchedAt = time.Now()
	return &w, nil
}

// Watch implements ReconciliationStore via the realtime change feed.
func (s *Supabase) Watch(ctx context.Context, bookingID string) (<-chan record.ReconciliationRecord, error) {
	key := record.ReconciliationKey(bookingID)

	rows, err := s.feed.Subscribe(ctx, tableReconciliations, "key", key)
	if err != nil {
		return nil, err
	}

	out := make(chan record.ReconciliationRecord, 8)

	// The completion record may have landed before the watch opened.
	go func() {
		defer close(out)

		if rec, err := s.reconciliation(key); err == nil {
			select {
			case out <- *rec:
			case <-ctx.Done():
				return
			}
		} else if err != ErrNotFound {
			log.Warn().Err(err).Str("key", key).Msg("reconciliation pre-read failed")
		}

		for row := range rows {
			rec := record.ReconciliationRecord{
				Key:           key,
				Status:        record.ReconciliationStatus(gjson.GetBytes(row, "status").String()),
				FailureReason: gjson.GetBytes(row, "failure_reason").String(),
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Supabase) reconciliation(key string) (*record.ReconciliationRecord, error) {
	var recs []record.ReconciliationRecord
	_, err := s.client.From(tableReconciliations).
		Select("*", "", false).
		Eq("key", key).
		ExecuteTo(&recs)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

var (
	_ SessionStore        = (*Supabase)(nil)
	_ BookingStore        = (*Supabase)(nil)
	_ AdvisorStore        = (*Supabase)(nil)
	_ WalletStore         = (*Supabase)(nil)
	_ ReconciliationStore = (*Supabase)(nil)
)

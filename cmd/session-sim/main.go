// session-sim drives complete session lifecycles: a metered audio call
// ended by the user, a fixed-slot video session that runs to its cap, and a
// chat session whose reconciliation record is produced by a simulated
// backend. The store driver comes from configuration; the memory driver
// additionally plays the backend, so the full tour only runs there.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/accrual"
	"github.com/advisly/session-core/internal/config"
	"github.com/advisly/session-core/internal/journal"
	"github.com/advisly/session-core/internal/rate"
	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/session"
	"github.com/advisly/session-core/internal/store"
	"github.com/advisly/session-core/internal/transport"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	setupLogging(cfg.Log)

	// The simulator compresses time: ticks run fast so a full lifecycle
	// finishes in seconds.
	cfg.Session.TickInterval = 50 * time.Millisecond
	cfg.Session.HeartbeatInterval = 200 * time.Millisecond

	b, err := openStores(cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}

	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = j.Close() }()
		jrnl = j
	}

	runMeteredCall(cfg, b, jrnl)
	if b.mem != nil {
		runFixedSlotExpiry(cfg, b, jrnl)
		runChatWithReconciliation(cfg, b, jrnl)
	} else {
		log.Info().Msg("hosted driver: runs needing a simulated backend skipped")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

// backends bundles the per-collection store handles behind one driver.
type backends struct {
	sessions store.SessionStore
	bookings store.BookingStore
	advisors store.AdvisorStore
	wallets  store.WalletStore
	recons   store.ReconciliationStore

	// mem is set for the memory driver, which doubles as the simulated
	// backend (seed data, reconciliation writes).
	mem *store.Memory
}

// openStores builds the configured store driver. The supabase driver gets a
// Redis wallet cache when an address is configured.
func openStores(cfg config.StoreConfig) (*backends, error) {
	switch cfg.Driver {
	case "supabase":
		sb, err := store.NewSupabase(cfg.Supabase)
		if err != nil {
			return nil, err
		}
		b := &backends{sessions: sb, bookings: sb, advisors: sb, wallets: sb, recons: sb}
		if cfg.Redis.Addr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			b.wallets = store.NewWalletCache(b.wallets, client, cfg.Redis.TTL)
		}
		return b, nil
	default:
		mem := seed()
		return &backends{
			sessions: mem, bookings: mem, advisors: mem,
			wallets: mem, recons: mem, mem: mem,
		}, nil
	}
}

// seed populates the memory store with one advisor, one student wallet, one
// on-demand booking and one fixed-slot booking.
func seed() *store.Memory {
	mem := store.NewMemory()
	mem.PutProfile(record.AdvisorProfile{
		AdvisorID: "advisor-1",
		AudioRate: 12,
		VideoRate: 18,
		ChatRate:  6,
	})
	mem.PutWallet(record.WalletSnapshot{UserID: "student-1", Balance: 500})
	mem.PutOnDemand(record.BookingRecord{
		BookingID:     "booking-od-1",
		Urgency:       record.UrgencyInstant,
		SessionAmount: 10,
		StudentID:     "student-1",
		AdvisorID:     "advisor-1",
		Status:        record.BookingAccepted,
		CreatedAt:     time.Now(),
	})
	mem.PutFixedSlot(record.BookingRecord{
		BookingID:     "booking-fs-1",
		Urgency:       record.UrgencyScheduled,
		SessionAmount: 45,
		StudentID:     "student-1",
		AdvisorID:     "advisor-1",
		Status:        record.BookingAccepted,
		CreatedAt:     time.Now(),
	})
	return mem
}

func env(b *backends, jrnl *journal.Journal, tr transport.RoomTransport) session.Env {
	return session.Env{
		Sessions:        b.sessions,
		Bookings:        b.bookings,
		Advisors:        b.advisors,
		Wallets:         b.wallets,
		Reconciliations: b.recons,
		Transport:       tr,
		Journal:         jrnl,
		UserID:          "student-1",
	}
}

func runMeteredCall(cfg *config.Config, b *backends, jrnl *journal.Journal) {
	log.Info().Msg("--- metered audio call, user hangs up ---")

	co := session.New(env(b, jrnl, transport.NewFake()), session.Params{
		SessionID: uuid.NewString(),
		Kind:      record.KindAudio,
		BookingID: "booking-od-1",
		AdvisorID: "advisor-1",
	}, cfg.Session, session.Hooks{
		OnRateSet: func(res rate.Resolution) {
			log.Info().Str("mode", string(res.Mode)).Float64("rate", res.RatePerMinute).
				Str("source", res.Source).Msg("rate set")
		},
		OnTick: func(snap accrual.Snapshot) {
			log.Debug().Dur("elapsed", snap.Elapsed).Float64("cost", snap.Cost).Msg("tick")
		},
	})

	if err := co.Start(context.Background()); err != nil {
		log.Error().Err(err).Msg("start failed")
		return
	}

	time.Sleep(time.Second)
	co.End(record.EndUserAction)

	outcome := <-co.Done()
	log.Info().Str("reason", string(outcome.Reason)).
		Dur("duration", outcome.Duration.Round(time.Millisecond)).
		Msg("call done")
}

func runFixedSlotExpiry(cfg *config.Config, b *backends, jrnl *journal.Journal) {
	log.Info().Msg("--- fixed-slot video session, slot runs out ---")

	// Compressed cap so the countdown expires within the run.
	slotCfg := cfg.Session
	slotCfg.SlotCap = 500 * time.Millisecond

	co := session.New(env(b, jrnl, transport.NewFake()), session.Params{
		SessionID: uuid.NewString(),
		Kind:      record.KindVideo,
		BookingID: "booking-fs-1",
		AdvisorID: "advisor-1",
	}, slotCfg, session.Hooks{
		OnRateSet: func(res rate.Resolution) {
			log.Info().Str("mode", string(res.Mode)).Float64("rate", res.RatePerMinute).
				Str("source", res.Source).Msg("rate set")
		},
	})

	if err := co.Start(context.Background()); err != nil {
		log.Error().Err(err).Msg("start failed")
		return
	}

	outcome := <-co.Done()
	log.Info().Str("reason", string(outcome.Reason)).
		Dur("duration", outcome.Duration.Round(time.Millisecond)).
		Msg("fixed slot done")
}

func runChatWithReconciliation(cfg *config.Config, b *backends, jrnl *journal.Journal) {
	log.Info().Msg("--- chat session, backend reconciles the charge ---")

	co := session.New(env(b, jrnl, transport.NewFake()), session.Params{
		SessionID: uuid.NewString(),
		Kind:      record.KindChat,
		BookingID: "booking-od-1",
		AdvisorID: "advisor-1",
	}, cfg.Session, session.Hooks{})

	if err := co.Start(context.Background()); err != nil {
		log.Error().Err(err).Msg("start failed")
		return
	}

	// Simulated backend: the completion record lands shortly after the
	// ended write.
	go func() {
		time.Sleep(300 * time.Millisecond)
		b.mem.PutReconciliation("booking-od-1", record.ReconciliationRecord{
			Status: record.ReconciliationPaid,
		})
	}()

	time.Sleep(500 * time.Millisecond)
	co.End(record.EndUserAction)

	outcome := <-co.Done()
	log.Info().Str("reason", string(outcome.Reason)).
		Str("reconciliation", string(outcome.Reconciliation)).
		Bool("timed_out", outcome.ReconciliationTimedOut).
		Msg("chat done")
}

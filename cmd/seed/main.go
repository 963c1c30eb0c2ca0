package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teembama/clinic-scheduling/internal/config"
	"github.com/teembama/clinic-scheduling/internal/db"
	"github.com/teembama/clinic-scheduling/internal/logging"
	"github.com/teembama/clinic-scheduling/internal/scheduling"
)

type seedConfig struct {
	Clinicians   int
	Days         int
	SlotLength   time.Duration
	DayStartHour int
	DayEndHour   int
	BlockRatio   float64
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("seed", "prod", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New("seed", cfg.Env, cfg.LogLevel)
	log.Info().Msg("seed starting")

	seedCfg := seedConfig{
		Clinicians:   getInt("SEED_CLINICIANS", 20),
		Days:         getInt("SEED_DAYS", 30),
		SlotLength:   time.Duration(getInt("SEED_SLOT_MINUTES", 30)) * time.Minute,
		DayStartHour: getInt("SEED_DAY_START_HOUR", 9),
		DayEndHour:   getInt("SEED_DAY_END_HOUR", 17),
		BlockRatio:   0.1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background(), pool); err != nil {
			log.Fatal().Err(err).Msg("apply schema")
		}
	}

	gofakeit.Seed(time.Now().UnixNano())

	repo := scheduling.NewPgRepository(pool)
	svc := scheduling.NewService(repo, scheduling.NopLocker{}, scheduling.NewEventLogSink(repo), log)
	if err := seedSlots(context.Background(), svc, cfg.ClinicLocation, seedCfg, log); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().Msg("seed complete")
}

// slotWriter is the part of the booking service the seeder drives.
type slotWriter interface {
	CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*scheduling.Slot, error)
	BlockSlot(ctx context.Context, id uuid.UUID) (*scheduling.Slot, error)
}

// seedSlots lays out a working day of back-to-back slots per clinician per
// day, starting today in the clinic's location. Each clinician gets a
// random lunch gap and a small share of blocked slots.
func seedSlots(ctx context.Context, svc slotWriter, loc *time.Location, cfg seedConfig, log zerolog.Logger) error {
	today := scheduling.DateIn(time.Now(), loc)

	for i := 0; i < cfg.Clinicians; i++ {
		clinicianID := uuid.New()
		lunchHour := gofakeit.Number(cfg.DayStartHour+2, cfg.DayEndHour-2)
		created, blocked := 0, 0

		for day := 0; day < cfg.Days; day++ {
			date := today.AddDays(day)
			dayStart, _ := date.Bounds(loc)
			if wd := dayStart.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			start := dayStart.Add(time.Duration(cfg.DayStartHour) * time.Hour)
			end := dayStart.Add(time.Duration(cfg.DayEndHour) * time.Hour)
			for t := start; !t.Add(cfg.SlotLength).After(end); t = t.Add(cfg.SlotLength) {
				if t.Hour() == lunchHour {
					continue
				}

				slot, err := svc.CreateSlot(ctx, clinicianID, t, t.Add(cfg.SlotLength))
				if errors.Is(err, scheduling.ErrOverlapConflict) {
					continue
				}
				if err != nil {
					return err
				}
				created++

				if gofakeit.Float64Range(0, 1) < cfg.BlockRatio {
					if _, err := svc.BlockSlot(ctx, slot.ID); err != nil {
						return err
					}
					blocked++
				}
			}
		}

		log.Info().
			Str("clinician_id", clinicianID.String()).
			Int("slots", created).
			Int("blocked", blocked).
			Msgf("clinician %d/%d seeded", i+1, cfg.Clinicians)
	}

	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Command seed writes two weeks of synthetic telemetry into the embedded
// store: a lamp→fan evening habit, device power states, and a grid-import
// curve whose second week runs lower so the evaluator has something to
// report.
package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/storage"
	"github.com/gridhabit/gridhabit/pkg/types"
)

const userID = "local"

func main() {
	dataDir := lflag.String("data-dir", ".", "Directory for the embedded database")
	daysStr := lflag.String("days", "14", "Days of history to generate")
	lflag.Configure()

	ctx := context.Background()
	log.Ctx(ctx).InfoContext(ctx, "seeding telemetry")

	days, err := strconv.Atoi(*daysStr)
	if err != nil || days <= 0 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid days flag", "days", *daysStr)
		os.Exit(1)
	}

	db, err := storage.OpenSQLite(*dataDir)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to open sqlite", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now()
	start := now.AddDate(0, 0, -days)

	// device baselines so the first evening edge is a real transition
	for _, dev := range []string{"lamp", "fan", "tv"} {
		must(ctx, db.InsertStateSample(ctx, userID, types.StateSample{
			Vendor: "smartthings", DeviceID: dev, Name: dev,
			Timestamp: start, On: false,
		}))
	}

	for day := start; day.Before(now); day = day.AddDate(0, 0, 1) {
		evening := time.Date(day.Year(), day.Month(), day.Day(), 18, 0, 0, 0, day.Location())
		if evening.After(now) {
			break
		}

		// the habit: lamp on, fan follows about thirty seconds later
		lampOn := evening.Add(time.Duration(rng.Intn(20)) * time.Minute)
		fanOn := lampOn.Add(time.Duration(25+rng.Intn(10)) * time.Second)
		off := lampOn.Add(3 * time.Hour)
		must(ctx, db.InsertStateSample(ctx, userID, types.StateSample{
			Vendor: "smartthings", DeviceID: "lamp", Name: "lamp",
			Timestamp: lampOn, On: true, PowerW: 60,
		}))
		must(ctx, db.InsertStateSample(ctx, userID, types.StateSample{
			Vendor: "smartthings", DeviceID: "fan", Name: "fan",
			Timestamp: fanOn, On: true, PowerW: 45,
		}))
		must(ctx, db.InsertStateSample(ctx, userID, types.StateSample{
			Vendor: "smartthings", DeviceID: "tv", Name: "tv",
			Timestamp: lampOn.Add(5 * time.Minute), On: true, PowerW: 120,
		}))
		for _, dev := range []string{"lamp", "fan", "tv"} {
			must(ctx, db.InsertStateSample(ctx, userID, types.StateSample{
				Vendor: "smartthings", DeviceID: dev, Name: dev,
				Timestamp: off, On: false,
			}))
		}

		// hourly grid import, evening-peaked, with the recent week lower
		scale := 1.0
		if now.Sub(day) < 7*24*time.Hour {
			scale = 0.6
		}
		for h := 0; h < 24; h++ {
			ts := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
			if ts.After(now) {
				break
			}
			base := 0.4
			if h >= 17 && h < 22 {
				dist := math.Abs(float64(h) - 19.0)
				base = 0.4 + 1.6*math.Exp(-(dist*dist)/4.0)
			}
			kw := scale * (base + rng.Float64()*0.1)
			must(ctx, db.InsertPowerSample(ctx, userID, types.MetricGridImport, types.PowerSample{
				Timestamp: ts, Value: kw,
			}))
		}
	}

	must(ctx, db.SetSettings(ctx, userID, types.Settings{}.Normalize(), types.CurrentSettingsVersion))
	log.Ctx(ctx).InfoContext(ctx, "seed complete", "days", days)
}

func must(ctx context.Context, err error) {
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "seed write failed", "error", err)
		os.Exit(1)
	}
}

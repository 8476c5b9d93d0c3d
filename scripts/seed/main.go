// Package main seeds a local review database with demo scopes holding
// pending, approved and rejected reviews. It writes straight to PostgreSQL,
// applying the service migrations first, so it can run before the service
// has ever started.
//
// Run: go run ./scripts/seed -per-scope 40
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/localguide/reviews/pkg/database"
	"github.com/localguide/reviews/pkg/slug"
	"github.com/localguide/reviews/services/review/migrations"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type scope struct {
	site, entityType, entitySlug string
}

// venues lists the demo entities by display name; slugs are derived the way
// site editors derive them.
var venues = []struct{ site, entityType, name string }{
	{"saltaire-guide", "cafe", "Salt's Diner"},
	{"saltaire-guide", "cafe", "The Boathouse"},
	{"saltaire-guide", "restaurant", "Victoria Tea Rooms"},
	{"lakes-stays", "hotel", "Grand View"},
	{"lakes-stays", "hotel", "Fell Foot Lodge"},
	{"lakes-stays", "campsite", "Derwent Meadows"},
}

func seedScopes() []scope {
	out := make([]scope, 0, len(venues))
	for _, v := range venues {
		out = append(out, scope{site: v.site, entityType: v.entityType, entitySlug: slug.Generate(v.name)})
	}
	return out
}

var names = []string{
	"Ann", "Bo", "Cal", "Dee", "Ed", "Flo", "Gus", "Hal", "Ivy", "Jo",
	"Kit", "Lou", "Max", "Ned", "Oona", "Pip", "Rae", "Sam", "Tess", "Vic",
}

var bodies = map[int][]string{
	1: {
		"Cold food, a long wait and nobody seemed to care at all.",
		"We left before ordering. The place was dirty and loud.",
	},
	2: {
		"Not great. The room was smaller than the photos suggested.",
		"Service was slow and the coffee had gone lukewarm by the table.",
	},
	3: {
		"Perfectly fine for a quick stop, nothing to write home about.",
		"Decent value, friendly enough, a bit cramped at busy times.",
	},
	4: {
		"Lovely breakfast and very friendly staff. Would return.",
		"Great location and comfortable beds, parking was a little tight.",
	},
	5: {
		"Best scones in the valley, and the view from the terrace is superb.",
		"Faultless stay. Spotless rooms and the staff went out of their way.",
	},
}

const moderator = "seed@localguide"

func main() {
	log.SetFlags(log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[seed] ")

	perScope := flag.Int("per-scope", 30, "reviews to create per scope")
	seed := flag.Uint64("seed", 1, "random seed, for repeatable data")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := database.DefaultPostgresConfig()
	cfg.URL = getEnv("DATABASE_URL", "")
	if cfg.URL == "" {
		cfg.Host = getEnv("POSTGRES_HOST", cfg.Host)
		cfg.User = getEnv("POSTGRES_USER", cfg.User)
		cfg.Password = getEnv("POSTGRES_PASSWORD", cfg.Password)
		cfg.DBName = getEnv("REVIEW_DB_NAME", cfg.DBName)
	}

	log.Println("Connecting to review database...")
	pool, err := database.NewPostgresPool(ctx, &cfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, nil); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	log.Println("Migrations applied.")

	rng := rand.New(rand.NewPCG(*seed, *seed))
	now := time.Now().UTC()

	var pending, approved, rejected int
	for _, s := range seedScopes() {
		for i := 0; i < *perScope; i++ {
			state := pickState(rng)
			if err := insertReview(ctx, pool, rng, s, state, now); err != nil {
				log.Fatalf("insert review for %s/%s/%s: %v", s.site, s.entityType, s.entitySlug, err)
			}
			switch state {
			case "approved":
				approved++
			case "rejected":
				rejected++
			default:
				pending++
			}
		}
		log.Printf("  Scope: %s/%s/%s (%d reviews)", s.site, s.entityType, s.entitySlug, *perScope)
	}

	fmt.Printf("Seeded %d reviews: %d approved, %d pending, %d rejected\n",
		approved+pending+rejected, approved, pending, rejected)
}

// pickState returns approved about 70% of the time, pending 20% and
// rejected 10%.
func pickState(rng *rand.Rand) string {
	switch n := rng.IntN(10); {
	case n < 7:
		return "approved"
	case n < 9:
		return "pending"
	default:
		return "rejected"
	}
}

// pickRating skews towards good reviews, as real ones do.
func pickRating(rng *rand.Rand) int {
	weights := []int{1, 1, 2, 4, 5}
	n := rng.IntN(13)
	for i, w := range weights {
		if n < w {
			return i + 1
		}
		n -= w
	}
	return 5
}

func insertReview(ctx context.Context, db database.DBTX, rng *rand.Rand, s scope, state string, now time.Time) error {
	rating := pickRating(rng)
	options := bodies[rating]
	id := uuid.NewString()
	createdAt := now.Add(-time.Duration(rng.IntN(180*24)) * time.Hour)

	var moderatedAt *time.Time
	moderatedBy := ""
	if state != "pending" {
		t := createdAt.Add(time.Duration(1+rng.IntN(48)) * time.Hour)
		moderatedAt = &t
		moderatedBy = moderator
	}

	reviewSQL, reviewArgs, err := psql.Insert("reviews").
		Columns("id", "site_slug", "entity_type", "entity_slug", "rating", "display_name", "body",
			"created_at", "moderation_state", "moderated_at", "moderated_by").
		Values(id, s.site, s.entityType, s.entitySlug, rating, names[rng.IntN(len(names))],
			options[rng.IntN(len(options))], createdAt, state, moderatedAt, moderatedBy).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return database.WithTx(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, reviewSQL, reviewArgs...); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		if moderatedAt == nil {
			return nil
		}

		actionSQL, actionArgs, err := psql.Insert("moderation_actions").
			Columns("id", "review_id", "from_state", "to_state", "moderator", "note", "created_at").
			Values(uuid.NewString(), id, "pending", state, moderator, "seeded", *moderatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert action: %w", err)
		}
		if _, err := tx.Exec(ctx, actionSQL, actionArgs...); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return nil
	})
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"evently-seats/internal/catalog"
	"evently-seats/internal/shared/config"
	"evently-seats/internal/shared/constants"
	"evently-seats/internal/shared/database"
	"evently-seats/pkg/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

type Seeder struct {
	db      *database.DB
	catalog *catalog.Service
}

// demoPlan is loaded when no -plan file is given
var demoPlan = catalog.FloorPlan{
	Sections: []catalog.FloorPlanSection{
		{
			Name:                "Orchestra",
			BasePriceMinorUnits: 12000,
			Rows: []catalog.FloorPlanRow{
				{Label: "A", Seats: 12},
				{Label: "B", Seats: 14},
				{Label: "C", Seats: 16},
			},
		},
		{
			Name:                "Mezzanine",
			BasePriceMinorUnits: 8000,
			Rows: []catalog.FloorPlanRow{
				{Label: "M1", Seats: 20},
				{Label: "M2", Seats: 20},
			},
		},
		{
			Name:                "Balcony",
			BasePriceMinorUnits: 4500,
			Rows: []catalog.FloorPlanRow{
				{Label: "BA", Seats: 24},
			},
		},
	},
}

func main() {
	planPath := flag.String("plan", "", "path to a floor plan JSON file (defaults to a demo venue)")
	eventFlag := flag.String("event", "", "event id to load the catalog under (defaults to a new id)")
	clean := flag.Bool("clean", false, "truncate seats and reservations before loading")
	flag.Parse()

	fmt.Println("🌱 Starting seat catalog seeder...")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	plan, err := readPlan(*planPath)
	if err != nil {
		log.Fatalf("Failed to read floor plan: %v", err)
	}

	eventID := uuid.New()
	if *eventFlag != "" {
		if eventID, err = uuid.Parse(*eventFlag); err != nil {
			log.Fatalf("Invalid event id %q: %v", *eventFlag, err)
		}
	}

	ctx := context.Background()
	appLogger := logger.New()
	db, err := database.InitDB(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	seeder := &Seeder{
		db:      db,
		catalog: catalog.NewService(catalog.NewRepository(db.PostgreSQL), appLogger),
	}

	if *clean {
		fmt.Println("\n🧹 Cleaning seat tables...")
		if err := seeder.CleanDatabase(ctx); err != nil {
			log.Fatalf("Failed to clean database: %v", err)
		}
		fmt.Println("✅ Seat tables cleaned")
	}

	fmt.Println("\n🌱 Loading floor plan...")
	if err := seeder.SeedEvent(ctx, eventID, plan); err != nil {
		log.Fatalf("Failed to seed event: %v", err)
	}

	fmt.Printf("\n🎉 Seeding completed! Event %s is ready for holds.\n", eventID)
}

func readPlan(path string) (catalog.FloorPlan, error) {
	if path == "" {
		return demoPlan, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalog.FloorPlan{}, err
	}
	var plan catalog.FloorPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return catalog.FloorPlan{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return plan, nil
}

// CleanDatabase truncates claim rows before the seats they point at
func (s *Seeder) CleanDatabase(ctx context.Context) error {
	tables := []string{
		"reservation_seats",
		"reservations",
		"seats",
	}

	return s.db.PostgreSQL.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			fmt.Printf("  Truncating table: %s\n", table)
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate table %s: %w", table, err)
			}
		}
		return nil
	})
}

// SeedEvent loads the plan and drops any cached availability for the event
func (s *Seeder) SeedEvent(ctx context.Context, eventID uuid.UUID, plan catalog.FloorPlan) error {
	seats, err := s.catalog.LoadFloorPlan(ctx, eventID, plan)
	if err != nil {
		return err
	}

	sections, err := s.catalog.ListSections(ctx, eventID)
	if err != nil {
		return err
	}
	for _, section := range sections {
		fmt.Printf("    ✅ %s: %d rows, %d seats\n", section.Name, len(section.Rows), section.Seats)
	}
	fmt.Printf("  🎟️  Loaded %d seats\n", len(seats))

	if s.db.Redis != nil {
		if err := s.db.Redis.Del(ctx, constants.AvailabilityKeys(eventID.String())...).Err(); err != nil {
			log.Printf("Warning: Failed to clear availability cache: %v", err)
		}
	}
	return nil
}

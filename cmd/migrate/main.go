// Command migrate applies the ledger's schema, grounded on the teacher's
// cmd/migrate/main.go (flag-driven up/status CLI against a *sql.DB)
// generalized from hand-written CREATE TABLE statements to GORM's
// AutoMigrate over ledger.AllModels, since every table here is already a
// GORM model rather than raw SQL the teacher's migrator owns directly.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/config"
	"github.com/novamarket/predictcore/internal/ledger"
)

const appName = "predictcore-migrate"

func main() {
	var (
		configPath = flag.String("config", "", "directory containing config.yaml")
		status     = flag.Bool("status", false, "list managed tables without migrating")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%s: loading config: %v", appName, err)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("%s: connecting to postgres: %v", appName, err)
	}

	if *status {
		printStatus(db)
		return
	}

	if err := db.AutoMigrate(ledger.AllModels()...); err != nil {
		log.Fatalf("%s: auto-migrating: %v", appName, err)
	}
	fmt.Println("migrations completed successfully")
}

func printStatus(db *gorm.DB) {
	fmt.Println("Managed tables:")
	for _, m := range ledger.AllModels() {
		fmt.Fprintf(os.Stdout, "  %-12T migrated=%v\n", m, db.Migrator().HasTable(m))
	}
}

// Package main implements a one-shot seed command that inserts a handful of
// example Services (and their "all agents" Assignments) directly into the
// Controller's database. It lives as a separate binary from the Controller
// itself so it can be run once against a fresh deployment without any HTTP
// round-trip.
//
// Usage:
//
//	go run ./cmd/seed --db-dsn ./nekoproxy.db
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// serviceTemplate is a pre-configured Service definition. Backend hosts are
// deliberately placeholder addresses — operators are expected to update
// them after seeding, same as the source script's closing reminder.
type serviceTemplate struct {
	name        string
	description string
	listenPort  int
	backendHost string
	backendPort int
	protocol    string
}

var templates = []serviceTemplate{
	{"SMTP", "Email SMTP service", 25, "mail.example.com", 25, wire.ProtocolTCP},
	{"SMTP-TLS", "Email SMTP with TLS", 587, "mail.example.com", 587, wire.ProtocolTCP},
	{"IMAP", "Email IMAP service", 143, "mail.example.com", 143, wire.ProtocolTCP},
	{"IMAP-SSL", "Email IMAP with SSL", 993, "mail.example.com", 993, wire.ProtocolTCP},
	{"TeamSpeak-Voice", "TeamSpeak voice communication", 9987, "ts.example.com", 9987, wire.ProtocolUDP},
	{"TeamSpeak-Query", "TeamSpeak ServerQuery", 10011, "ts.example.com", 10011, wire.ProtocolTCP},
	{"TeamSpeak-Files", "TeamSpeak file transfer", 30033, "ts.example.com", 30033, wire.ProtocolTCP},
	{"Mattermost", "Mattermost chat server", 8065, "chat.example.com", 8065, wire.ProtocolTCP},
	{"WoW-Auth", "World of Warcraft auth server", 3724, "wow.example.com", 3724, wire.ProtocolTCP},
	{"WoW-World", "World of Warcraft world server", 8085, "wow.example.com", 8085, wire.ProtocolTCP},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbDriver := flag.String("db-driver", envOrDefault("NEKOPROXY_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	dbDSN := flag.String("db-dsn", envOrDefault("NEKOPROXY_DB_DSN", "./nekoproxy.db"), "Database DSN or file path for SQLite")
	assign := flag.Bool("assign-all-agents", true, "Also create an all-agents Assignment for each seeded Service")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	gormDB, err := db.New(db.Config{
		Driver:   *dbDriver,
		DSN:      *dbDSN,
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	serviceRepo := repositories.NewServiceRepository(gormDB)
	assignmentRepo := repositories.NewAssignmentRepository(gormDB)

	ctx := context.Background()
	added, skipped := 0, 0

	fmt.Println("Seeding service templates...")
	for _, tmpl := range templates {
		svc := &db.Service{
			Name:        tmpl.name,
			Description: tmpl.description,
			ListenPort:  tmpl.listenPort,
			Protocol:    tmpl.protocol,
			BackendHost: tmpl.backendHost,
			BackendPort: tmpl.backendPort,
		}

		if err := serviceRepo.Create(ctx, svc); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				fmt.Printf("  Skipped: %s (already exists)\n", tmpl.name)
				skipped++
				continue
			}
			return fmt.Errorf("create service %q: %w", tmpl.name, err)
		}
		fmt.Printf("  Added: %s\n", tmpl.name)
		added++

		if *assign {
			a := &db.ServiceAssignment{ServiceID: svc.ID, AgentID: nil, Enabled: true}
			if err := assignmentRepo.Create(ctx, a); err != nil && !errors.Is(err, repositories.ErrConflict) {
				return fmt.Errorf("assign service %q to all agents: %w", tmpl.name, err)
			}
		}
	}

	fmt.Printf("\nDone! Added %d services, skipped %d existing.\n", added, skipped)
	fmt.Println("Remember to update the backend hosts to your actual server addresses!")
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

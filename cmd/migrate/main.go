package main

import (
	"database/sql"
	"errors"
	"flag"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/restrona-pos/api/internal/config"
	"github.com/restrona-pos/api/internal/logging"
)

// Usage:
//
//	migrate up
//	migrate down [N]
//	migrate force VERSION
//	migrate version
func main() {
	flag.Parse()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.WithError(err).Fatal("create migrate driver")
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		logger.WithError(err).Fatal("create migrate instance")
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		n := 1
		if arg := flag.Arg(1); arg != "" {
			if n, err = strconv.Atoi(arg); err != nil || n < 1 {
				logger.Fatalf("invalid step count %q", arg)
			}
		}
		err = m.Steps(-n)
	case "force":
		v, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			logger.Fatalf("invalid version %q", flag.Arg(1))
		}
		err = m.Force(v)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.WithError(verr).Fatal("read version")
		}
		logger.WithField("version", version).WithField("dirty", dirty).Info("schema version")
		return
	default:
		logger.Fatalf("unknown command %q (want up, down, force or version)", cmd)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.WithError(err).Fatalf("migrate %s", cmd)
	}
	logger.WithField("command", cmd).Info("migrations applied")
}

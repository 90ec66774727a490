package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/database"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-config path] <up|down|version|force N>")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	m, err := database.NewMigrator(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to create migrate instance")
	}

	switch flag.Arg(0) {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("An error occurred while migrating up")
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Fatal("An error occurred while migrating down")
		}
		log.Info("Migrations rolled back successfully")
	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.WithError(err).Fatal("Failed to read schema version")
		}
		log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("Schema version")
	case "force":
		v, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatal("force requires a version number")
		}
		if err := m.Force(v); err != nil {
			log.WithError(err).Fatal("Failed to force schema version")
		}
		log.WithField("version", v).Info("Schema version forced")
	default:
		log.Fatalf("Unknown command: %s. Use up, down, version or force.", flag.Arg(0))
	}
}

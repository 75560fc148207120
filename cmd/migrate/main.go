package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"

	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/database"
	"github.com/mediavms/paywall/internal/pkg/env"
	"github.com/mediavms/paywall/internal/pkg/logging"
)

func main() {
	if _, err := env.SetupEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "could not read .env file: %v\n", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log, "paywall-migrate", os.Stdout)
	log.Info().
		Str("user", cfg.DB.User).
		Str("host", cfg.DB.Host).
		Int("port", cfg.DB.Port).
		Str("database", cfg.DB.Name).
		Msg("connecting to database")

	m, err := migrate.New(env.GetEnv("MIGRATIONS_PATH", "file://migrations"), "mysql://"+database.DSN(cfg.DB)+"&multiStatements=true")
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize migrations")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Error().AnErr("source", sourceErr).AnErr("database", dbErr).Msg("could not close migration resources")
		}
	}()

	switch command {
	case "up":
		report(log, m.Up(), "migrations applied")

	case "down":
		report(log, m.Steps(-1), "last migration rolled back")

	case "goto":
		version := versionArg(log)
		report(log, m.Migrate(version), fmt.Sprintf("migrated to version %d", version))

	case "force":
		version := versionArg(log)
		if err := m.Force(int(version)); err != nil {
			log.Fatal().Err(err).Uint("version", version).Msg("could not force version")
		}
		log.Info().Uint("version", version).Msg("version forced")

	case "status", "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("no migration applied yet")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("could not read migration version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")

	default:
		printUsage()
		os.Exit(1)
	}
}

func report(log zerolog.Logger, err error, done string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().Msg("no change: database is up to date")
	case err != nil:
		log.Fatal().Err(err).Msg("migration failed")
	default:
		log.Info().Msg(done)
	}
}

func versionArg(log zerolog.Logger) uint {
	if len(os.Args) < 3 {
		log.Fatal().Msg("a version number is required")
	}
	version, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		log.Fatal().Err(err).Str("arg", os.Args[2]).Msg("invalid version number")
	}
	return uint(version)
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("Commands:")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  goto N  - migrate to version N")
	fmt.Println("  force N - set version N without running migrations")
	fmt.Println("  version - show the current migration version (alias: status)")
}

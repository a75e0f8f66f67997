package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/bwusage/internal/config"
	"github.com/jgoulah/bwusage/internal/database"
	"github.com/jgoulah/bwusage/internal/logging"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "bwusage",
	Short: "Collect daily bandwidth usage from the ISP portal and publish reports",
	Long: `bwusage periodically downloads per-day upload/download figures from the ISP
customer portal, keeps them in a local SQLite database and writes day, month and
all-time JSON reports for the usage dashboard.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data/db/bwusage.db)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the configuration file and applies the --db flag
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// setup loads the config and builds the logger; call the returned func on exit
func setup() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, closeLog, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, logger, closeLog, nil
}

type stores struct {
	db      *database.DB
	entries *database.EntryStore
	history *database.HistoryStore
	loc     *time.Location
}

// openStores opens the database for commands that do not talk to the portal
func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}
	db, err := database.New(cfg.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &stores{
		db:      db,
		entries: database.NewEntryStore(db, loc, logger),
		history: database.NewHistoryStore(db, loc, logger),
		loc:     loc,
	}, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tribuna/internal/database"
	"tribuna/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type StadiumsConfig struct {
	Stadiums []models.Stadium `yaml:"stadiums"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		stadiumsPath = flag.String("stadiums", "configs/stadiums.yaml", "path to stadiums.yaml")
		dbPath       = flag.String("db", "./data/tribuna.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*stadiumsPath)
	if err != nil {
		return fmt.Errorf("read stadiums: %w", err)
	}
	var cfg StadiumsConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse stadiums: %w", err)
	}
	if len(cfg.Stadiums) == 0 {
		return fmt.Errorf("no stadiums in yaml")
	}
	for _, s := range cfg.Stadiums {
		if s.Name == "" {
			return fmt.Errorf("stadium without a name in %s", *stadiumsPath)
		}
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	before, err := db.ListStadiums(ctx)
	if err != nil {
		return fmt.Errorf("list stadiums: %w", err)
	}
	if err = db.SyncStadiums(ctx, cfg.Stadiums); err != nil {
		return err
	}
	after, err := db.ListStadiums(ctx)
	if err != nil {
		return fmt.Errorf("list stadiums: %w", err)
	}

	created := len(after) - len(before)
	fmt.Printf("Done. Created: %d, updated: %d\n", created, len(cfg.Stadiums)-created)
	return nil
}

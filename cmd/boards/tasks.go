package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/activity"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/config"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/search"
)

var (
	boardID     int64
	streamAfter string
	streamCount int64

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, _, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			log.WithField("dir", cfg.MigrationsDir).Info("migrations applied")
			return nil
		},
	}

	recomputeCmd = &cobra.Command{
		Use:   "recompute",
		Short: "Re-evaluate every formula column of a board",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, pg, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			engine := grid.New(pg, grid.WithConfig(engineConfig(cfg.Grid)))
			n, err := engine.RecomputeFormulas(cmd.Context(), boardID)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"board_id": boardID, "cells": n}).Info("formulas recomputed")
			return nil
		},
	}

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Push a board's rows to Meilisearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			db, pg, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meili.Close()
			engine := grid.New(pg, grid.WithConfig(engineConfig(cfg.Grid)))
			n, err := search.NewService(meili, nil).ReindexBoard(cmd.Context(), engine, boardID)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"board_id": boardID, "items": n}).Info("board reindexed")
			return nil
		},
	}

	activityCmd = &cobra.Command{
		Use:   "activity",
		Short: "Print entries from the Redis activity stream as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.RedisURL) == "" {
				return errors.New("REDIS_URL is not set")
			}
			stream, err := activity.NewRedisStream(cfg.RedisURL, cfg.Grid.ActivityStream)
			if err != nil {
				return err
			}
			defer stream.Close()
			entries, err := stream.Read(cmd.Context(), streamAfter, streamCount)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return fmt.Errorf("write entry: %w", err)
				}
			}
			return nil
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{recomputeCmd, reindexCmd} {
		c.Flags().Int64Var(&boardID, "board", 0, "board id")
		_ = c.MarkFlagRequired("board")
	}
	activityCmd.Flags().StringVar(&streamAfter, "after", "", "stream id to read after; empty reads from the start")
	activityCmd.Flags().Int64Var(&streamCount, "count", 100, "maximum entries to print")
}

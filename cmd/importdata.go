/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trailhead-tours/apiserver/config"
	"github.com/trailhead-tours/apiserver/internal/db"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/types"
)

var (
	importFile   string
	importDelete bool
)

// importDataCmd loads development tour fixtures into the database.
var importDataCmd = &cobra.Command{
	Use:   "import-data",
	Short: "Import development tour data from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() {
			_ = dbConn.Close()
		}()

		tourRepo := store.NewTourRepository(dbConn)

		if importDelete {
			if err := tourRepo.DeleteAll(cmd.Context()); err != nil {
				return fmt.Errorf("delete tours: %w", err)
			}
			fmt.Println("data deleted successfully")
			return nil
		}

		raw, err := os.ReadFile(importFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", importFile, err)
		}

		var tours []types.Tour
		if err := json.Unmarshal(raw, &tours); err != nil {
			return fmt.Errorf("parse %s: %w", importFile, err)
		}

		for _, tour := range tours {
			if _, err := tourRepo.Create(cmd.Context(), tour); err != nil {
				return fmt.Errorf("import tour %q: %w", tour.Name, err)
			}
		}
		fmt.Printf("imported %d tours\n", len(tours))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importDataCmd)
	importDataCmd.Flags().StringVar(&importFile, "file", "dev-data/tours.json", "path to the tours JSON file")
	importDataCmd.Flags().BoolVar(&importDelete, "delete", false, "delete all tours instead of importing")
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/akiho/torii/internal/accounting"
	"github.com/akiho/torii/internal/optimizer"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage cost-optimization rules",
}

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter rules file",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := optimizer.NewRuleStore(cfg.Optimizer.RulesPath)

		existing, err := store.Load()
		if err != nil {
			return err
		}
		if existing.Len() > 0 {
			return fmt.Errorf("rules file already has %d rule(s): %s", existing.Len(), cfg.Optimizer.RulesPath)
		}

		starter := []optimizer.Rule{
			{
				ID:        ulid.Make().String(),
				Scope:     optimizer.ScopeGlobal,
				Enabled:   false,
				Priority:  0,
				Target:    "gpt-4o-mini",
				CreatedAt: time.Now().UTC(),
			},
		}
		if err := store.Save(starter); err != nil {
			return err
		}

		fmt.Printf("Wrote starter rules to %s (disabled; edit and enable)\n", cfg.Optimizer.RulesPath)
		return nil
	},
}

var priceSetCmd = &cobra.Command{
	Use:   "price-set <model> <input-per-mtok> <output-per-mtok>",
	Short: "Set an operator price for a model",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("parse input price: %w", err)
		}
		output, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("parse output price: %w", err)
		}

		store, err := accounting.Open(cmd.Context(), cfg.Accounting.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetPrice(cmd.Context(), optimizer.Price{
			Model:         args[0],
			InputPerMTok:  input,
			OutputPerMTok: output,
		}); err != nil {
			return err
		}

		fmt.Printf("Price set for %s: %.4f in / %.4f out per MTok\n", args[0], input, output)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesInitCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(priceSetCmd)
}

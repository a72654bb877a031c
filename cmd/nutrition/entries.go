package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sakif/nutrition-client/internal/model"
	"github.com/sakif/nutrition-client/internal/service"
)

func newEntriesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entries",
		Aliases: []string{"entry"},
		Short:   "Log what you ate: a quantity of a food within a meal",
	}
	cmd.AddCommand(
		newEntriesListCmd(opts),
		newEntriesGetCmd(opts),
		newEntriesCreateCmd(opts),
		newEntriesUpdateCmd(opts),
		newEntriesDeleteCmd(opts),
	)
	return cmd
}

func printEntry(w io.Writer, e model.FoodEntry) {
	name := e.Food.Name
	if name == "" {
		name = fmt.Sprintf("food %d", e.FoodID)
	}
	fmt.Fprintf(w, "%d\tmeal %d\t%s\t%.1fg\t%.2f kcal\tP %.2f\tC %.2f\tF %.2f\n",
		e.ID, e.MealID, name, e.QuantityGrams, e.TotalCalories, e.TotalProtein, e.TotalCarbs, e.TotalFat)
}

func newEntriesListCmd(opts *rootOptions) *cobra.Command {
	var filter service.FoodEntryFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List food entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				entries, err := a.services.FoodEntries.List(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No entries found")
					return nil
				}
				for _, e := range entries {
					printEntry(out, e)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&filter.MealID, "meal", 0, "Only entries of this meal")
	cmd.Flags().Int64Var(&filter.FoodID, "food", 0, "Only entries of this food")
	cmd.Flags().IntVar(&filter.Skip, "skip", 0, "Results to skip")
	cmd.Flags().IntVar(&filter.Limit, "limit", service.DefaultLimit, "Maximum results")
	return cmd
}

func newEntriesGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one entry with its computed totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("entry id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				e, err := a.services.FoodEntries.Get(ctx, id)
				if err != nil {
					return err
				}
				printEntry(cmd.OutOrStdout(), e)
				return nil
			})
		},
	}
}

func bindEntryInput(cmd *cobra.Command, in *model.FoodEntryInput) {
	cmd.Flags().Int64Var(&in.MealID, "meal", 0, "Meal id")
	cmd.Flags().Int64Var(&in.FoodID, "food", 0, "Food id")
	cmd.Flags().Float64Var(&in.QuantityGrams, "grams", 0, "Quantity in grams")
	_ = cmd.MarkFlagRequired("meal")
	_ = cmd.MarkFlagRequired("food")
	_ = cmd.MarkFlagRequired("grams")
}

func newEntriesCreateCmd(opts *rootOptions) *cobra.Command {
	var in model.FoodEntryInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a food to a meal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				e, err := a.services.FoodEntries.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added entry %d (%.2f kcal)\n", e.ID, e.TotalCalories)
				return nil
			})
		},
	}
	bindEntryInput(cmd, &in)
	return cmd
}

func newEntriesUpdateCmd(opts *rootOptions) *cobra.Command {
	var in model.FoodEntryInput
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace an entry's meal, food and quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("entry id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				e, err := a.services.FoodEntries.Update(ctx, id, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated entry %d (%.2f kcal)\n", e.ID, e.TotalCalories)
				return nil
			})
		},
	}
	bindEntryInput(cmd, &in)
	return cmd
}

func newEntriesDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("entry id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.services.FoodEntries.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted entry %d\n", id)
				return nil
			})
		},
	}
}

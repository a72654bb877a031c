package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/nutrition-client/internal/model"
	"github.com/sakif/nutrition-client/internal/service"
)

func newMealsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meals",
		Short: "Manage your meals",
	}
	cmd.AddCommand(
		newMealsListCmd(opts),
		newMealsGetCmd(opts),
		newMealsCreateCmd(opts),
		newMealsUpdateCmd(opts),
		newMealsDeleteCmd(opts),
	)
	return cmd
}

func printMeal(w io.Writer, m model.Meal) {
	var kcal float64
	for _, e := range m.Entries {
		kcal += e.TotalCalories
	}
	fmt.Fprintf(w, "%d\t%s\t%s\t%d entries\t%.2f kcal\n", m.ID, m.Date, m.MealType, len(m.Entries), kcal)
}

func newMealsListCmd(opts *rootOptions) *cobra.Command {
	var (
		date     string
		mealType string
		filter   service.MealFilter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your meals, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				d, err := model.ParseDate(date)
				if err != nil {
					return err
				}
				filter.Date = &d
			}
			if mealType != "" {
				mt, err := model.ParseMealType(mealType)
				if err != nil {
					return err
				}
				filter.MealType = mt
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				meals, err := a.services.Meals.List(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(meals) == 0 {
					fmt.Fprintln(out, "No meals found")
					return nil
				}
				for _, m := range meals {
					printMeal(out, m)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Only meals on this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&mealType, "type", "", "Only this meal type (breakfast|lunch|dinner|snack)")
	cmd.Flags().IntVar(&filter.Skip, "skip", 0, "Results to skip")
	cmd.Flags().IntVar(&filter.Limit, "limit", service.DefaultLimit, "Maximum results")
	return cmd
}

func newMealsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a meal and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("meal id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.services.Meals.Get(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printMeal(out, m)
				for _, e := range m.Entries {
					fmt.Fprint(out, "  ")
					printEntry(out, e)
				}
				return nil
			})
		},
	}
}

// mealFlags binds a model.MealInput; the date defaults to today.
type mealFlags struct {
	date     string
	mealType string
}

func (f *mealFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Meal date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&f.mealType, "type", "", "Meal type (breakfast|lunch|dinner|snack)")
	_ = cmd.MarkFlagRequired("type")
}

func (f *mealFlags) input() (model.MealInput, error) {
	mt, err := model.ParseMealType(f.mealType)
	if err != nil {
		return model.MealInput{}, err
	}
	d := model.DateOf(time.Now())
	if f.date != "" {
		if d, err = model.ParseDate(f.date); err != nil {
			return model.MealInput{}, err
		}
	}
	return model.MealInput{Date: d, MealType: mt}, nil
}

func newMealsCreateCmd(opts *rootOptions) *cobra.Command {
	var flags mealFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a meal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.services.Meals.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added meal %d\n", m.ID)
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newMealsUpdateCmd(opts *rootOptions) *cobra.Command {
	var flags mealFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a meal's date or type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("meal id", args[0])
			if err != nil {
				return err
			}
			in, err := flags.input()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.services.Meals.Update(ctx, id, in); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated meal %d\n", id)
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newMealsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a meal and all of its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("meal id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.services.Meals.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted meal %d\n", id)
				return nil
			})
		},
	}
}

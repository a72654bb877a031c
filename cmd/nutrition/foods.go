package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/nutrition-client/internal/model"
	"github.com/sakif/nutrition-client/internal/service"
)

func newFoodsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foods",
		Short: "Browse and edit the food catalogue",
	}
	cmd.AddCommand(
		newFoodsListCmd(opts),
		newFoodsGetCmd(opts),
		newFoodsCreateCmd(opts),
		newFoodsUpdateCmd(opts),
		newFoodsDeleteCmd(opts),
		newFoodsSearchCmd(opts),
	)
	return cmd
}

func printFood(w io.Writer, f model.Food) {
	fmt.Fprintf(w, "%d\t%s\t%.2f kcal\tP %.2f\tC %.2f\tF %.2f\tFiber %.2f\n",
		f.ID, f.Name, f.CaloriesPer100g, f.ProteinPer100g, f.CarbsPer100g, f.FatPer100g, f.FiberPer100g)
}

func printFoods(w io.Writer, foods []model.Food) {
	if len(foods) == 0 {
		fmt.Fprintln(w, "No foods found")
		return
	}
	for _, f := range foods {
		printFood(w, f)
	}
}

func newFoodsListCmd(opts *rootOptions) *cobra.Command {
	var filter service.FoodFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List foods (values per 100g)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Search = strings.TrimSpace(filter.Search)
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				foods, err := a.services.Foods.List(ctx, filter)
				if err != nil {
					return err
				}
				printFoods(cmd.OutOrStdout(), foods)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Search, "search", "", "Name contains (case-insensitive)")
	cmd.Flags().IntVar(&filter.Skip, "skip", 0, "Results to skip")
	cmd.Flags().IntVar(&filter.Limit, "limit", service.DefaultLimit, "Maximum results")
	return cmd
}

func newFoodsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one food",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("food id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				f, err := a.services.Foods.Get(ctx, id)
				if err != nil {
					return err
				}
				printFood(cmd.OutOrStdout(), f)
				return nil
			})
		},
	}
}

// foodFlags binds the fields of a model.FoodInput. Fiber is sent only when
// the flag was given, leaving the default to the server otherwise.
type foodFlags struct {
	in    model.FoodInput
	fiber float64
}

func (f *foodFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.in.Name, "name", "", "Food name")
	fl.Float64Var(&f.in.CaloriesPer100g, "calories", 0, "Calories per 100g")
	fl.Float64Var(&f.in.ProteinPer100g, "protein", 0, "Protein grams per 100g")
	fl.Float64Var(&f.in.CarbsPer100g, "carbs", 0, "Carbohydrate grams per 100g")
	fl.Float64Var(&f.in.FatPer100g, "fat", 0, "Fat grams per 100g")
	fl.Float64Var(&f.fiber, "fiber", 0, "Fiber grams per 100g (optional)")
	_ = cmd.MarkFlagRequired("name")
}

func (f *foodFlags) input(cmd *cobra.Command) model.FoodInput {
	in := f.in
	in.Name = strings.TrimSpace(in.Name)
	if cmd.Flags().Changed("fiber") {
		fiber := f.fiber
		in.FiberPer100g = &fiber
	}
	return in
}

func newFoodsCreateCmd(opts *rootOptions) *cobra.Command {
	var flags foodFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a food",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				f, err := a.services.Foods.Create(ctx, flags.input(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added food %d\n", f.ID)
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newFoodsUpdateCmd(opts *rootOptions) *cobra.Command {
	var flags foodFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a food; every value not given is reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("food id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				f, err := a.services.Foods.Update(ctx, id, flags.input(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated food %d\n", f.ID)
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newFoodsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a food that no entry uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("food id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.services.Foods.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted food %d\n", id)
				return nil
			})
		},
	}
}

// newFoodsSearchCmd runs one search per stdin line. Only the newest query
// may print: a query typed while an older one is still waiting or in
// flight cancels it.
func newFoodsSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		debounce time.Duration
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search foods interactively, one query per line on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				latest := &service.Latest[[]model.Food]{Debounce: debounce}
				out := cmd.OutOrStdout()

				var (
					wg      sync.WaitGroup
					mu      sync.Mutex
					lastErr error
				)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					query := strings.TrimSpace(scanner.Text())
					wg.Add(1)
					latest.Go(ctx, func(ctx context.Context) ([]model.Food, error) {
						return a.services.Foods.List(ctx, service.FoodFilter{Search: query, Limit: limit})
					}, func(foods []model.Food, err error) {
						defer wg.Done()
						if errors.Is(err, service.ErrSuperseded) {
							return
						}

						mu.Lock()
						defer mu.Unlock()
						if err != nil {
							lastErr = err
							return
						}
						lastErr = nil
						fmt.Fprintf(out, "== %q ==\n", query)
						printFoods(out, foods)
					})
				}
				wg.Wait()
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("reading queries: %w", err)
				}
				return lastErr
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Wait this long for more input before searching")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results per query")
	return cmd
}

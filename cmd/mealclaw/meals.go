package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/mealclaw/internal/app"
	"github.com/stellarlinkco/mealclaw/internal/knowledge"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/store"
	"github.com/stellarlinkco/mealclaw/internal/tracker"
)

var timeNow = time.Now

func (c *cli) askCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a nutrition question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return printOutcome(c.stdout(), a.Tracker.Search(cmd.Context(), strings.Join(args, " "), nil), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw result as JSON")
	return cmd
}

func (c *cli) mealCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "meal",
		Short: "Create, update and inspect meal records",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print the raw result as JSON")

	run := func(fn func(ctx context.Context, a *app.App, args []string) tracker.Outcome) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return printOutcome(c.stdout(), fn(cmd.Context(), a, args), asJSON)
			})
		}
	}
	byDay := func(op func(t *tracker.Tracker) func(context.Context, time.Time) tracker.Outcome) func(context.Context, *app.App, []string) tracker.Outcome {
		return func(ctx context.Context, a *app.App, args []string) tracker.Outcome {
			day := a.Tracker.Today()
			if len(args) == 1 {
				parsed, err := meal.ParseDay(args[0])
				if err != nil {
					return tracker.Outcome{
						Status:    tracker.StatusFailed,
						ErrorKind: meal.KindInvalidInput,
						Error:     fmt.Sprintf("date %q is not YYYY-MM-DD", args[0]),
					}
				}
				day = parsed
			}
			return op(a.Tracker)(ctx, day)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <description>",
			Short: "Log a meal from a natural language description",
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(ctx context.Context, a *app.App, args []string) tracker.Outcome {
				return a.Tracker.Create(ctx, strings.Join(args, " "), nil)
			}),
		},
		&cobra.Command{
			Use:   "update <id> <description>",
			Short: "Replace a meal with a new description",
			Args:  cobra.MinimumNArgs(2),
			RunE: run(func(ctx context.Context, a *app.App, args []string) tracker.Outcome {
				return a.Tracker.Update(ctx, args[0], strings.Join(args[1:], " "), nil)
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a meal",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app.App, args []string) tracker.Outcome {
				return a.Tracker.Delete(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a meal",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app.App, args []string) tracker.Outcome {
				return a.Tracker.Get(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "day [YYYY-MM-DD]",
			Short: "List the meals of a day (default today)",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(byDay(func(t *tracker.Tracker) func(context.Context, time.Time) tracker.Outcome {
				return t.Day
			})),
		},
		&cobra.Command{
			Use:   "total [YYYY-MM-DD]",
			Short: "Show the calorie total of a day against the target",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(byDay(func(t *tracker.Tracker) func(context.Context, time.Time) tracker.Outcome {
				return t.Total
			})),
		},
	)
	return cmd
}

// withStore opens only the meal database.
func (c *cli) withStore(ctx context.Context, fn func(st *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store.DBPath, c.logger(cfg))
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureDefaultCategories(ctx); err != nil {
		return err
	}
	if err := st.EnsureDefaultSettings(ctx); err != nil {
		return err
	}
	return fn(st)
}

func (c *cli) categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage meal categories",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the meal categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				cats, err := st.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range cats {
					fmt.Fprintln(c.stdout(), name)
				}
				return nil
			})
		},
	}
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a meal category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.AddCategory(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout(), "Category %s added\n", strings.TrimSpace(args[0]))
				return nil
			})
		},
	}
	set := &cobra.Command{
		Use:   "set <name>...",
		Short: "Replace the meal categories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.ReplaceCategories(cmd.Context(), args); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout(), "Categories: %s\n", strings.Join(args, ", "))
				return nil
			})
		},
	}
	cmd.AddCommand(list, add, set)
	return cmd
}

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the user settings",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the user settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				s, err := st.Settings(cmd.Context())
				if err != nil {
					return err
				}
				printSettings(c.stdout(), s)
				return nil
			})
		},
	}

	var next meal.Settings
	set := &cobra.Command{
		Use:   "set",
		Short: "Change the user settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(st *store.Store) error {
				s, err := st.Settings(cmd.Context())
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("sex") {
					s.Sex = next.Sex
				}
				if flags.Changed("age") {
					s.Age = next.Age
				}
				if flags.Changed("height") {
					s.HeightCm = next.HeightCm
				}
				if flags.Changed("weight") {
					s.WeightKg = next.WeightKg
				}
				if flags.Changed("target") {
					s.TargetCalories = next.TargetCalories
				}
				if err := st.UpdateSettings(cmd.Context(), s); err != nil {
					return err
				}
				printSettings(c.stdout(), s)
				return nil
			})
		},
	}
	set.Flags().StringVar(&next.Sex, "sex", "", "Sex")
	set.Flags().IntVar(&next.Age, "age", 0, "Age in years")
	set.Flags().IntVar(&next.HeightCm, "height", 0, "Height in cm")
	set.Flags().IntVar(&next.WeightKg, "weight", 0, "Weight in kg")
	set.Flags().IntVar(&next.TargetCalories, "target", 0, "Daily calorie target")

	cmd.AddCommand(show, set)
	return cmd
}

func (c *cli) ingestCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Load nutrition pages (.html, .txt) into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := c.logger(cfg)
			st, err := store.Open(cmd.Context(), cfg.Store.DBPath, logging.Component(log, "store"))
			if err != nil {
				return err
			}
			defer st.Close()

			embedder := c.opts.App.Embedder
			if embedder == nil {
				embedder = knowledge.NewEmbedder(cfg)
			}
			index := knowledge.NewIndex(st.DB())
			if reset {
				if err := index.Reset(cmd.Context()); err != nil {
					return err
				}
			}
			ingester := knowledge.NewIngester(embedder, index,
				knowledge.Splitter{Size: cfg.Knowledge.ChunkSize, Overlap: cfg.Knowledge.ChunkOverlap},
				cfg.Knowledge.SourceBaseURL, logging.Component(log, "ingest"))
			report, err := ingester.IngestDir(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			total, err := index.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout(), "Ingested %d file(s), %d chunk(s); knowledge base has %d chunk(s)\n", report.Files, report.Chunks, total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Remove existing chunks first")
	return cmd
}

func printSettings(w io.Writer, s meal.Settings) {
	fmt.Fprintf(w, "Sex: %s\nAge: %d\nHeight: %d cm\nWeight: %d kg\nTarget: %d kcal\n",
		s.Sex, s.Age, s.HeightCm, s.WeightKg, s.TargetCalories)
}

// printOutcome renders out and returns an error when it failed.
func printOutcome(w io.Writer, out tracker.Outcome, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	} else {
		printHuman(w, out)
	}
	if out.Failed() {
		return errors.New(out.Error)
	}
	return nil
}

func printHuman(w io.Writer, out tracker.Outcome) {
	if out.Failed() {
		fmt.Fprintf(w, "Failed (%s): %s\n", out.ErrorKind, out.Error)
		if out.Answer != "" {
			fmt.Fprintf(w, "Answer: %s\n", out.Answer)
		}
		if out.Suggestion != "" {
			fmt.Fprintf(w, "Suggestion: %s\n", out.Suggestion)
		}
		return
	}
	if out.Message != "" {
		fmt.Fprintln(w, out.Message)
	}
	if out.Meal != nil {
		printMeal(w, *out.Meal)
	}
	for _, m := range out.Meals {
		printMeal(w, m)
	}
	if out.Totals != nil {
		fmt.Fprintf(w, "Remaining: %d kcal\n", out.Totals.Remaining)
	}
	if out.Answer != "" {
		fmt.Fprintln(w, out.Answer)
	}
	if out.UsedEstimator {
		fmt.Fprintln(w, "(calories estimated)")
	}
	if len(out.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for _, s := range out.Sources {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
}

func printMeal(w io.Writer, m meal.Record) {
	fmt.Fprintf(w, "%s  %s  %-9s %5d kcal  %s", m.ID, m.Date.Format(meal.DateLayout), m.Category, m.Calories, m.Name)
	if m.Description != "" {
		fmt.Fprintf(w, " - %s", m.Description)
	}
	fmt.Fprintln(w)
}

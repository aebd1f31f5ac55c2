package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/mealclaw/internal/app"
	"github.com/stellarlinkco/mealclaw/internal/config"
	"github.com/stellarlinkco/mealclaw/internal/gateway"
	"github.com/stellarlinkco/mealclaw/internal/knowledge"
	"github.com/stellarlinkco/mealclaw/internal/llm"
	"github.com/stellarlinkco/mealclaw/internal/logging"
	"github.com/stellarlinkco/mealclaw/internal/meal"
	"github.com/stellarlinkco/mealclaw/internal/store"
)

// Options carries the injectable dependencies of the CLI.
type Options struct {
	App        app.Options
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	SignalChan chan os.Signal
}

type cli struct {
	opts Options
}

func (c *cli) stdout() io.Writer {
	if c.opts.Stdout != nil {
		return c.opts.Stdout
	}
	return os.Stdout
}

func (c *cli) stderr() io.Writer {
	if c.opts.Stderr != nil {
		return c.opts.Stderr
	}
	return os.Stderr
}

func (c *cli) stdin() io.Reader {
	if c.opts.Stdin != nil {
		return c.opts.Stdin
	}
	return os.Stdin
}

func (c *cli) logger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log, c.stderr())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withApp loads the config, wires the tracker and runs fn.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, c.logger(cfg), c.opts.App)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRootCmd(opts Options) *cobra.Command {
	c := &cli{opts: opts}
	root := &cobra.Command{
		Use:           "mealclaw",
		Short:         "mealclaw - conversational meal and calorie tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.stdout())
	root.SetErr(c.stderr())
	root.AddCommand(
		c.agentCmd(),
		c.askCmd(),
		c.mealCmd(),
		c.categoriesCmd(),
		c.settingsCmd(),
		c.ingestCmd(),
		c.gatewayCmd(),
		c.onboardCmd(),
		c.statusCmd(),
	)
	return root
}

func main() {
	root := newRootCmd(Options{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) agentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Talk to the meal assistant with a single message or in a REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return c.runAgent(cmd.Context(), a, message)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")
	return cmd
}

func (c *cli) runAgent(ctx context.Context, a *app.App, message string) error {
	stdout := c.stdout()

	if message != "" {
		reply, err := a.Agent.Handle(ctx, message, nil)
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		fmt.Fprintln(stdout, reply.Text)
		return nil
	}

	fmt.Fprintln(stdout, "mealclaw agent (type 'exit' to quit, '/reset' to clear the conversation)")
	var history []llm.Turn
	scanner := bufio.NewScanner(c.stdin())
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if input == "/reset" {
			history = nil
			fmt.Fprintln(stdout, "Conversation cleared.")
			continue
		}

		reply, err := a.Agent.Handle(ctx, input, history)
		if err != nil {
			fmt.Fprintf(c.stderr(), "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply.Text)
		history = llm.Trim(append(history, llm.UserTurn(input), llm.AssistantTurn(reply.Text)), a.Config.Agent.HistoryTurns)
	}
	return scanner.Err()
}

func (c *cli) gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the chat gateway (telegram + daily report)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				gw, err := gateway.New(a.Config, a.Agent, a.Tracker, gateway.Options{
					SignalChan: c.opts.SignalChan,
					Logger:     logging.Component(a.Log, "gateway"),
				})
				if err != nil {
					return fmt.Errorf("create gateway: %w", err)
				}
				return gw.Run(cmd.Context())
			})
		},
	}
}

func (c *cli) onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and the meal database",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := c.stdout()
			cfgPath := config.ConfigPath()

			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := config.SaveConfig(config.DefaultConfig()); err != nil {
					return err
				}
				fmt.Fprintf(out, "Created config: %s\n", cfgPath)
			} else {
				fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.Store.DBPath, c.logger(cfg))
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.EnsureDefaultCategories(cmd.Context()); err != nil {
				return err
			}
			if err := st.EnsureDefaultSettings(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(out, "Database ready: %s\n", cfg.Store.DBPath)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
			fmt.Fprintln(out, "  2. Or set MEALCLAW_API_KEY / OPENAI_API_KEY")
			fmt.Fprintln(out, "  3. Run 'mealclaw ingest <dir>' to load nutrition pages")
			fmt.Fprintln(out, "  4. Run 'mealclaw agent -m \"I ate a hamburger\"' to log a meal")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mealclaw status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := c.stdout()
			cfg, err := config.LoadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config: error (%v)\n", err)
				return nil
			}

			fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
			fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
			fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
			fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
			fmt.Fprintf(out, "Embedding: %s (%s)\n", cfg.Knowledge.Embedding.Model, cfg.Knowledge.Embedding.Provider)
			fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
			fmt.Fprintf(out, "Daily report: %s\n", cfg.Gateway.DailyReport)

			if _, err := os.Stat(cfg.Store.DBPath); err != nil {
				fmt.Fprintln(out, "Database: not found (run 'mealclaw onboard')")
				return nil
			}
			st, err := store.Open(cmd.Context(), cfg.Store.DBPath, logging.Nop())
			if err != nil {
				fmt.Fprintf(out, "Database: error (%v)\n", err)
				return nil
			}
			defer st.Close()
			fmt.Fprintf(out, "Database: %s\n", cfg.Store.DBPath)
			if n, err := knowledge.NewIndex(st.DB()).Count(cmd.Context()); err == nil {
				fmt.Fprintf(out, "Knowledge chunks: %d\n", n)
			}
			if total, err := st.TotalCalories(cmd.Context(), meal.StartOfDay(timeNow())); err == nil {
				fmt.Fprintf(out, "Calories today: %d\n", total)
			}
			return nil
		},
	}
}

func providerDisplay(t string) string {
	if t == "" {
		return config.DefaultProviderType + " (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

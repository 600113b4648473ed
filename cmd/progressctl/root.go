package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sdk "github.com/matrixorigin/moi-go-sdk"
	"github.com/spf13/cobra"

	"smart-progress/internal/app"
	"smart-progress/internal/config"
	"smart-progress/internal/identity"
	applog "smart-progress/internal/logger"
	"smart-progress/internal/middleware"
	"smart-progress/internal/model"
	"smart-progress/internal/report"
	"smart-progress/internal/service"
)

var (
	configFile string
	dateFlag   string
	outputDir  string
	subject    string
	tokenTTL   time.Duration
	asJSON     bool
)

var rootCmd = &cobra.Command{
	Use:           "progressctl",
	Short:         "Operate the team progress reporter",
	Long:          `progressctl runs report jobs on demand, inspects stored reports and manages identity links.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	runCmd = &cobra.Command{Use: "run", Short: "Run a report cycle now"}

	runDailyCmd = &cobra.Command{
		Use:   "daily",
		Short: "Build and deliver the daily report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				day, err := dayOr(dateFlag, a.Reports.Today())
				if err != nil {
					return err
				}
				bar := newSpinner("Building daily report " + day.Format(model.DateLayout))
				r, err := a.Reports.RunDaily(ctx, day)
				finishBar(bar)
				if err != nil {
					return err
				}
				fmt.Printf("\nDaily report %s delivered: %d overdue, %d due today, partial=%v\n", r.Date, len(r.Overdue), len(r.DueToday), r.Partial)
				return nil
			})
		},
	}

	runWeeklyCmd = &cobra.Command{
		Use:   "weekly",
		Short: "Build and deliver the weekly report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				start, err := dayOr(dateFlag, a.Reports.PreviousWeekStart())
				if err != nil {
					return err
				}
				bar := newSpinner("Building weekly report " + start.Format(model.DateLayout))
				w, err := a.Reports.RunWeekly(ctx, start)
				finishBar(bar)
				if err != nil {
					return err
				}
				fmt.Printf("\nWeekly report %s – %s delivered (%d of 7 days)\n", w.WeekStart, w.WeekEnd, len(w.PresentDates))
				return nil
			})
		},
	}

	checkinCmd = &cobra.Command{
		Use:       "checkin open|close",
		Short:     "Open or close the check-in thread",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"open", "close"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				day, err := dayOr(dateFlag, a.Reports.Today())
				if err != nil {
					return err
				}
				if args[0] == "open" {
					w, err := a.Reports.OpenCheckin(ctx, day)
					if err != nil {
						return err
					}
					fmt.Printf("Check-in for %s open in thread %s\n", w.Date, w.ThreadTS)
					return nil
				}
				sums, err := a.Reports.CloseCheckin(ctx, day)
				if err != nil {
					return err
				}
				fmt.Printf("Check-in closed with %d parsed replies\n", len(sums))
				return nil
			})
		},
	}

	showCmd = &cobra.Command{Use: "show", Short: "Print a stored report"}

	showDailyCmd = &cobra.Command{
		Use:   "daily <date>",
		Short: "Print the stored daily report for a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				r, err := a.Store.Daily(ctx, args[0])
				if err != nil {
					return fmt.Errorf("daily %s: %w", args[0], err)
				}
				if asJSON {
					return printJSON(r)
				}
				fmt.Print(report.RenderDaily(r, nil))
				return nil
			})
		},
	}

	showWeeklyCmd = &cobra.Command{
		Use:   "weekly <week-start>",
		Short: "Print the stored weekly report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				w, err := a.Store.Weekly(ctx, args[0])
				if err != nil {
					return fmt.Errorf("weekly %s: %w", args[0], err)
				}
				if asJSON {
					return printJSON(w)
				}
				fmt.Print(report.RenderWeekly(w))
				return nil
			})
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export <week-start>",
		Short: "Write the weekly report as JSON and xlsx from stored dailies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				start, err := dayOr(args[0], a.Reports.Today())
				if err != nil {
					return err
				}
				bar := newSpinner("Exporting week " + args[0])
				paths, err := a.Reports.ExportWeekly(ctx, start, outputDir)
				finishBar(bar)
				if err != nil {
					return err
				}
				fmt.Println()
				for _, p := range paths {
					fmt.Println("wrote", p)
				}
				return nil
			})
		},
	}

	identityCmd = &cobra.Command{Use: "identity", Short: "Manage identity links"}

	identityListCmd = &cobra.Command{
		Use:   "list",
		Short: "List known identities and their external ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				list, err := a.Identities.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(list)
				}
				for _, id := range list {
					fmt.Printf("%d\t%s\t%s\n", id.ID, id.DisplayName, formatLinks(id))
				}
				return nil
			})
		},
	}

	identityLinkCmd = &cobra.Command{
		Use:     "link <space:id> <space:id>",
		Short:   "Attach the second external id to the identity owning the first",
		Example: "  progressctl identity link tracker:12345 chat:U0ABCDEF",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromSpace, fromID, err := identity.ParseRef(args[0])
			if err != nil {
				return err
			}
			toSpace, toID, err := identity.ParseRef(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				ident, err := a.Identities.Merge(ctx, fromSpace, fromID, toSpace, toID)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%s\t%s\n", ident.ID, ident.DisplayName, formatLinks(ident))
				return nil
			})
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Probe the tracker, chat, store and optional integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				rep := a.Health.Check(ctx)
				if err := printJSON(rep); err != nil {
					return err
				}
				if rep.Status == service.Unhealthy {
					return fmt.Errorf("system is %s", rep.Status)
				}
				return nil
			})
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(configFile)
			tok, err := middleware.IssueToken([]byte(cfg.Server.JWTSecret), subject, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog-init",
		Short: "Create the MOI catalog table and NL2SQL knowledge for daily reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(configFile)
			applog.Init(cfg.Log)
			client, err := cfg.NewRawClient()
			if err != nil {
				return err
			}
			if client == nil {
				return fmt.Errorf("moi.base_url and moi.api_key are required")
			}
			catalogID := sdk.CatalogID(cfg.MOI.CatalogID)
			if catalogID == 0 {
				catalogID = 1
			}
			dbID, tableID, err := service.InitCatalog(cmd.Context(), client, catalogID, cfg.Database.Name)
			if err != nil {
				return fmt.Errorf("catalog init: %w", err)
			}
			if err := service.InitKnowledge(cmd.Context(), client); err != nil {
				return fmt.Errorf("knowledge init: %w", err)
			}
			fmt.Printf("database_id: %d\ndaily_table_id: %d\n", dbID, tableID)
			return nil
		},
	}
)

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (e.g. etc/config-dev.yaml)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of chat markdown")

	runCmd.PersistentFlags().StringVarP(&dateFlag, "date", "d", "", "report day or week start (YYYY-MM-DD); defaults to today / last week")
	checkinCmd.Flags().StringVarP(&dateFlag, "date", "d", "", "check-in day (YYYY-MM-DD); defaults to today")
	exportCmd.Flags().StringVarP(&outputDir, "output", "o", "reports", "output directory")
	tokenCmd.Flags().StringVar(&subject, "subject", "ops", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 7*24*time.Hour, "token lifetime")

	runCmd.AddCommand(runDailyCmd, runWeeklyCmd)
	showCmd.AddCommand(showDailyCmd, showWeeklyCmd)
	identityCmd.AddCommand(identityListCmd, identityLinkCmd)
	rootCmd.AddCommand(runCmd, checkinCmd, showCmd, exportCmd, identityCmd, healthCmd, tokenCmd, catalogCmd)
}

// withApp loads config, builds the app and runs fn. strict also validates the
// settings a live report cycle needs.
func withApp(ctx context.Context, strict bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load(configFile)
	applog.Init(cfg.Log)
	if strict {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

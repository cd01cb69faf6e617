package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rflorenc/fitsync/internal/models"
)

func writeJSONOut(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInventoryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List guest records that would be migrated",
		Args:  cobra.NoArgs,
		RunE: withApp(appOptions{needsDB: true}, func(app *App, cmd *cobra.Command, args []string) error {
			records := app.Migrations.Inventory().Records()
			out := cmd.OutOrStdout()
			if asJSON {
				if records == nil {
					records = []models.MigrationRecord{}
				}
				return writeJSONOut(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No guest data on this device.")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "%-14s %6d bytes  modified %s\n", rec.Key, len(rec.GuestValue), rec.LocalModified.Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		account string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration state and whether an account needs a migration",
		Args:  cobra.NoArgs,
		RunE: withApp(appOptions{needsDB: true}, func(app *App, cmd *cobra.Command, args []string) error {
			state, err := app.Migrations.CheckMigrationStatus()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				view := struct {
					models.MigrationState
					Needed *bool `json:"needed,omitempty"`
				}{MigrationState: state}
				if account != "" {
					needed := app.Migrations.CheckProfileMigrationNeeded(account)
					view.Needed = &needed
				}
				return writeJSONOut(out, view)
			}

			fmt.Fprintf(out, "Guest data on device: %s\n", yesNo(state.HasLocalData))
			if account != "" {
				fmt.Fprintf(out, "Migration needed for %s: %s\n", account, yesNo(app.Migrations.CheckProfileMigrationNeeded(account)))
			}
			if a := state.LastAttempt; a != nil {
				fmt.Fprintf(out, "Last attempt: %s for %s at %s (%s)\n", a.ID, a.AccountID, a.StartedAt.Format(time.RFC3339), outcome(a.Success))
			} else {
				fmt.Fprintln(out, "Last attempt: none")
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to check")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var (
		account string
		dryRun  bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate guest data into an account",
		Long: `Move guest data into an account, locally and on the remote service.

Examples:
  fitsync migrate --account acct-42             # Run a migration
  fitsync migrate --account acct-42 --dry-run   # Show what would happen
`,
		Args: cobra.NoArgs,
		RunE: withApp(appOptions{needsDB: true, needsRemote: true}, func(app *App, cmd *cobra.Command, args []string) error {
			if account == "" {
				return fmt.Errorf("--account is required")
			}
			if dryRun {
				return runPreview(app, cmd, account, asJSON)
			}
			return runMigrate(app, cmd, account, asJSON)
		}),
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to migrate into")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the planned actions without writing anything")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runPreview(app *App, cmd *cobra.Command, account string, asJSON bool) error {
	preview, err := app.Migrations.PreviewMigration(cmd.Context(), account)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSONOut(out, preview)
	}
	if len(preview.Items) == 0 {
		fmt.Fprintln(out, "Nothing to migrate.")
		return nil
	}
	for _, it := range preview.Items {
		line := fmt.Sprintf("%-14s %-8s %s", it.Key, it.Source, it.Action)
		switch {
		case it.Resolution != nil:
			line += " -> " + it.Resolution.Action
		case it.Error != "":
			line += ": " + it.Error
		}
		fmt.Fprintln(out, line)
	}
	for _, w := range preview.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func runMigrate(app *App, cmd *cobra.Command, account string, asJSON bool) error {
	mgr := app.Migrations
	out := cmd.OutOrStdout()
	hasGuest, err := mgr.AssociateAccount(account)
	if err != nil {
		return err
	}
	if !hasGuest && !asJSON {
		// Keys left pending by an earlier run may still need pushing.
		fmt.Fprintln(out, "No guest data on this device.")
	}

	if !asJSON {
		unsub := mgr.OnProgress(func(p models.MigrationProgress) {
			fmt.Fprintf(out, "[%3d%%] %-17s %s\n", p.Percentage, p.Step, p.Message)
		})
		defer unsub()
	}

	// The first interrupt asks the migration to stop at the next step.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigs:
			if mgr.CancelMigration() {
				app.Logger.Warn("interrupt received, cancelling migration")
			}
		case <-done:
		}
	}()

	res, err := mgr.StartProfileMigration(cmd.Context(), account)
	if err != nil {
		return err
	}
	if asJSON {
		if err := writeJSONOut(out, res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	if !res.Success {
		return fmt.Errorf("migration %s did not complete", res.AttemptID)
	}
	return nil
}

func printResult(out io.Writer, res *models.MigrationResult) {
	switch {
	case res.NothingToMigrate:
		fmt.Fprintln(out, "Nothing to migrate.")
	case res.Success:
		fmt.Fprintf(out, "Migrated %d key(s): %s\n", len(res.MigratedKeys), strings.Join(res.MigratedKeys, ", "))
	default:
		fmt.Fprintf(out, "Migration failed after %d key(s).\n", len(res.MigratedKeys))
	}
	for _, c := range res.Conflicts {
		action := "unresolved"
		if c.Resolution != nil {
			action = c.Resolution.Action
		}
		fmt.Fprintf(out, "conflict: %s resolved as %s\n", c.Key, action)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		account string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past migration attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(appOptions{needsDB: true}, func(app *App, cmd *cobra.Command, args []string) error {
			var attempts []*models.MigrationAttempt
			for _, a := range app.Migrations.State().History {
				if account != "" && a.AccountID != account {
					continue
				}
				attempts = append(attempts, a)
				if limit > 0 && len(attempts) == limit {
					break
				}
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if attempts == nil {
					attempts = []*models.MigrationAttempt{}
				}
				return writeJSONOut(out, attempts)
			}
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No migration attempts recorded.")
				return nil
			}
			for _, a := range attempts {
				fmt.Fprintf(out, "%s  %s  %-12s %-9s keys=%d errors=%d warnings=%d\n",
					a.ID, a.StartedAt.Format(time.RFC3339), a.AccountID, outcome(a.Success),
					len(a.MigratedKeys), len(a.Errors), len(a.Warnings))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&account, "account", "", "Only show attempts for this account")
	cmd.Flags().IntVar(&limit, "limit", 20, "Limit number of attempts (0 = unlimited)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func outcome(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

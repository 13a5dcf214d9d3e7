// Command tracectl administers a tracceaqua deployment: migrations, API keys,
// record status, expiry and the anchoring outbox.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracceaqua/tracceaqua/internal/app"
	"github.com/tracceaqua/tracceaqua/internal/config"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp loads the configuration and wires the services. The caller must
// call the returned close function.
func newApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, closeLog := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Stdio: true})
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, func() {
		_ = a.Close()
		_ = closeLog()
	}, nil
}

// operator is the actor tracectl acts as.
func operator(a *app.App) record.Actor {
	return record.Actor{ID: a.Config.Auth.LocalActor, Role: record.RoleAdmin}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:          "tracectl",
	Short:        "Administer a tracceaqua deployment",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(app.Version)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the database to the latest schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store, err := app.OpenStore(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Printf("Database (%s) is at the latest schema\n", cfg.DB.Driver)
		return nil
	},
}

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Print the stage catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		var sources []stage.SourceType
		if source != "" {
			st, err := stage.ParseSourceType(source)
			if err != nil {
				return err
			}
			sources = append(sources, st)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, cat := range stage.Describe(sources...) {
			fmt.Fprintf(w, "%s\n", cat.SourceType)
			for _, info := range cat.Stages {
				origin := ""
				if info.Origin {
					origin = "origin"
				}
				fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", info.Position+1, info.Stage, origin, strings.Join(info.RequiredFields, ","))
			}
		}
		return w.Flush()
	},
}

// apikey command
var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key and print its token once",
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, _ := cmd.Flags().GetString("actor")
		role, _ := cmd.Flags().GetString("role")
		description, _ := cmd.Flags().GetString("description")

		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		token, key, err := a.Keys.Issue(cmd.Context(), actorID, record.Role(strings.ToUpper(role)), description)
		if err != nil {
			return err
		}
		fmt.Printf("Token:  %s\n", token)
		fmt.Printf("Actor:  %s (%s)\n", key.ActorID, key.Role)
		fmt.Printf("Hash:   %s\n", key.Hash)
		fmt.Println("Store the token now; it cannot be shown again.")
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		keys, err := a.Keys.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No API keys.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HASH\tACTOR\tROLE\tCREATED\tLAST USED")
		for _, k := range keys {
			lastUsed := "-"
			if k.LastUsed != nil {
				lastUsed = k.LastUsed.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.Hash, k.ActorID, k.Role, k.CreatedAt.Format(time.RFC3339), lastUsed)
		}
		return w.Flush()
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <hash>",
	Short: "Revoke an API key by its full hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if err := a.Keys.Revoke(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Revoked.")
		return nil
	},
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect and manage records",
}

var recordShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a record with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		rec, err := a.Records.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var recordStatusCmd = &cobra.Command{
	Use:   "status <id> <COMPLETED|RECALLED|EXPIRED>",
	Short: "Move a record to a terminal status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		to := record.Status(strings.ToUpper(args[1]))
		rec, err := a.Records.SetStatus(cmd.Context(), operator(a), args[0], to, reason)
		if err != nil {
			return err
		}
		fmt.Printf("Record %s (%s) is now %s\n", rec.ID, rec.BatchCode, rec.Status)
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire ACTIVE records not updated within --max-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge, _ := cmd.Flags().GetDuration("max-age")

		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		if maxAge <= 0 {
			maxAge = a.Config.Expiry.MaxAge
		}
		ids, err := a.Records.ExpireStale(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d record(s)\n", len(ids))
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Print the audit log, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, _ := cmd.Flags().GetString("record")
		actorID, _ := cmd.Flags().GetString("actor")
		limit, _ := cmd.Flags().GetInt("limit")

		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		opts := activity.ListActivityOptions{ActorID: actorID, Limit: limit}
		if recordID != "" {
			opts.RecordID = &recordID
		}
		entries, err := a.Activity.GetRecentActivity(cmd.Context(), opts)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.ActorID, e.ActivityType, e.Summary)
		}
		return w.Flush()
	},
}

// anchor command
var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Work the anchoring outbox",
}

var anchorDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process due anchor jobs until none remain",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		res, err := a.DrainAnchors(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Claimed %d: anchored %d, superseded %d, retried %d, abandoned %d\n",
			res.Claimed, res.Anchored, res.Superseded, res.Retried, res.Abandoned)
		return nil
	},
}

var anchorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count outbox jobs by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		counts, err := a.Store.Jobs.CountByStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(counts)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, migrateCmd, stagesCmd)

	stagesCmd.Flags().String("source", "", "only this source type (FARMED or WILD_CAPTURE)")

	apikeyCreateCmd.Flags().String("actor", "", "actor id the key authenticates as")
	apikeyCreateCmd.Flags().String("role", "", "actor role, e.g. FISHER or ADMIN")
	apikeyCreateCmd.Flags().String("description", "", "free-form note")
	_ = apikeyCreateCmd.MarkFlagRequired("actor")
	_ = apikeyCreateCmd.MarkFlagRequired("role")
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)

	recordStatusCmd.Flags().String("reason", "", "reason recorded in the activity log")
	recordCmd.AddCommand(recordShowCmd, recordStatusCmd)
	rootCmd.AddCommand(recordCmd)

	expireCmd.Flags().Duration("max-age", 0, "inactivity threshold; defaults to expiry.max_age")
	rootCmd.AddCommand(expireCmd)

	activityCmd.Flags().String("record", "", "only entries of this record")
	activityCmd.Flags().String("actor", "", "only entries by this actor")
	activityCmd.Flags().Int("limit", 50, "maximum entries")
	rootCmd.AddCommand(activityCmd)

	anchorCmd.AddCommand(anchorDrainCmd, anchorStatusCmd)
	rootCmd.AddCommand(anchorCmd)
}

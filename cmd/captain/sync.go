package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surya-s-1/captain-tool-integrations/internal/config"
	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create Jira issues for a project version",
	Long: `Run a version sync in the foreground.

Creates issues for NEW entities in batches, correlates them back by label,
then marks deprecated entities' issues. Progress is written to the
version's status field exactly as the HTTP-triggered sync does.

Examples:
  captain sync --project p1 --version v3 --uid u1
  captain sync --project p1 --version v3 --uid u1 --kind requirements
  captain sync --project p1 --version v3 --uid u1 --only TC-12`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("project", "", "Project id (required)")
	syncCmd.Flags().String("version", "", "Version (required)")
	syncCmd.Flags().String("kind", "testcases", "Entity kind: testcases or requirements")
	syncCmd.Flags().String("uid", "", "User whose Jira credentials are used (required)")
	syncCmd.Flags().String("only", "", "Create the issue for this single entity id instead of syncing the version")
	syncCmd.Flags().Int(config.FlagName(config.KeySyncBatchSize), 0, "Issues per bulk-create call")
	syncCmd.Flags().Int(config.FlagName(config.KeySyncConcurrency), 0, "Bulk-create batches in flight")
	syncCmd.Flags().Duration(config.FlagName(config.KeySyncUpdateDelay), 0, "Pause between deprecation updates")
	_ = syncCmd.MarkFlagRequired("project")
	_ = syncCmd.MarkFlagRequired("version")
	_ = syncCmd.MarkFlagRequired("uid")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	projectID, _ := cmd.Flags().GetString("project")
	version, _ := cmd.Flags().GetString("version")
	kindFlag, _ := cmd.Flags().GetString("kind")
	uid, _ := cmd.Flags().GetString("uid")
	only, _ := cmd.Flags().GetString("only")

	kind, err := types.ParseEntityKind(kindFlag)
	if err != nil {
		return err
	}
	scope := tracker.Scope{ProjectID: projectID, Version: version, Kind: kind}

	a, err := newApp(rootCtx, settings, logger.Logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	if only != "" {
		issue, err := a.syncer.CreateOne(rootCtx, uid, scope, only)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(out, issue)
		}
		fmt.Fprintf(out, "✓ %s → %s (%s)\n", only, issue.Key, issue.URL)
		return nil
	}

	result, syncErr := a.syncer.SyncVersion(rootCtx, uid, scope)
	if jsonOutput {
		if err := outputJSON(out, result); err != nil {
			return err
		}
	} else {
		printSyncResult(out, scope, result)
	}
	if syncErr != nil {
		return syncErr
	}
	if !result.Success {
		return errors.New("sync finished with errors")
	}
	return nil
}

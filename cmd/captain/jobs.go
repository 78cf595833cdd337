package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surya-s-1/captain-tool-integrations/internal/archive"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit and inspect archive jobs",
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Build an archive in the foreground",
	Long: `Record an archive job and run it to completion in this process.

Target kinds:
  testcase   the datasets of one test case (--target TC-1)
  document   one named version document (--target design)
  all        the datasets of every test case in the version

Examples:
  captain jobs submit --project p1 --version v3 --target TC-1
  captain jobs submit --project p1 --version v3 --target-kind all`,
	RunE: runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show an archive job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

func init() {
	jobsSubmitCmd.Flags().String("project", "", "Project id (required)")
	jobsSubmitCmd.Flags().String("version", "", "Version (required)")
	jobsSubmitCmd.Flags().String("target-kind", string(types.TargetTestcase), "testcase, document or all")
	jobsSubmitCmd.Flags().String("target", "", "Test case id or document name")
	jobsSubmitCmd.Flags().String("uid", "", "User the job is recorded for")
	_ = jobsSubmitCmd.MarkFlagRequired("project")
	_ = jobsSubmitCmd.MarkFlagRequired("version")

	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	req := archive.Request{}
	req.ProjectID, _ = cmd.Flags().GetString("project")
	req.Version, _ = cmd.Flags().GetString("version")
	kind, _ := cmd.Flags().GetString("target-kind")
	req.TargetKind = types.TargetKind(kind)
	req.Target, _ = cmd.Flags().GetString("target")
	req.UID, _ = cmd.Flags().GetString("uid")

	a, err := newApp(rootCtx, settings, logger.Logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := a.archive.Submit(rootCtx, req)
	if err != nil {
		return err
	}
	execErr := a.archive.Execute(rootCtx, id)

	view, err := a.archive.Poll(rootCtx, id)
	if err != nil {
		return err
	}
	if err := printJob(cmd, view); err != nil {
		return err
	}
	return execErr
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(rootCtx, settings, logger.Logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	view, err := a.archive.Poll(rootCtx, args[0])
	if err != nil {
		return fmt.Errorf("job %s: %w", args[0], err)
	}
	return printJob(cmd, view)
}

// printJob writes view as YAML, or JSON with --json.
func printJob(cmd *cobra.Command, view *archive.JobView) error {
	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), view)
	}
	return outputYAML(cmd.OutOrStdout(), view)
}

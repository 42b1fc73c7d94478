package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"redub/internal/job"
	"redub/internal/manifest"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var jc job.Config
	var follow bool
	var subtitlePosition string
	var fontSize int
	var bilingual bool

	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Submit a video for localization",
		Long: "Submit a localization job. The source may be a local file path or a " +
			"video URL fetched with yt-dlp.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jc.Source = args[0]
			if subtitlePosition != "" || fontSize > 0 || cmd.Flags().Changed("bilingual") {
				opts := &job.SubtitleOptions{Position: subtitlePosition, FontSize: fontSize}
				if cmd.Flags().Changed("bilingual") {
					opts.Bilingual = &bilingual
				}
				jc.Subtitles = opts
			}
			id, err := client.submit(jc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			if !follow {
				return nil
			}
			return followJob(cmd, client, id)
		},
	}

	cmd.Flags().StringVar(&jc.SourceLang, "from", "", "Source language code (e.g. en)")
	cmd.Flags().StringVar(&jc.TargetLang, "to", "", "Target language code (e.g. zh)")
	cmd.Flags().StringVar(&jc.Engine, "engine", "gptsovits", "Synthesis engine (gptsovits or indextts)")
	cmd.Flags().IntVar(&jc.MaxLineChars, "max-line-chars", 0, "Subtitle line length limit (0 uses the daemon default)")
	cmd.Flags().IntVar(&jc.MinCueMillis, "min-cue-millis", 0, "Minimum cue duration in milliseconds (0 uses the daemon default)")
	cmd.Flags().StringVar(&subtitlePosition, "subtitle-position", "", "Burned subtitle position, top or bottom (default from the daemon)")
	cmd.Flags().IntVar(&fontSize, "font-size", 0, "Burned subtitle font size (0 uses the daemon default)")
	cmd.Flags().BoolVar(&bilingual, "bilingual", true, "Render both translated and source lines")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream stage events until the job finishes")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// followJob polls the event feed until the job reaches a terminal state.
func followJob(cmd *cobra.Command, client *apiClient, id string) error {
	out := cmd.OutOrStdout()
	var since int64
	for {
		events, err := client.events(id, since)
		if err != nil {
			return err
		}
		for _, event := range events {
			since = event.Seq
			line := event.Type
			if event.NodeID != "" {
				line += " " + event.NodeID
			}
			if event.Message != "" {
				line += ": " + event.Message
			}
			fmt.Fprintln(out, line)
		}

		status, err := client.status(id)
		if err != nil {
			return err
		}
		if status.Status.Terminal() {
			if status.Status != manifest.JobCompleted {
				return fmt.Errorf("job %s: %s", status.Status, status.Error)
			}
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(time.Second):
		}
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List submitted jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.list()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs submitted.")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, summary := range jobs {
				detail := summary.Error
				if summary.FailedStage != "" {
					detail = summary.FailedStage + ": " + detail
				}
				rows = append(rows, []string{summary.ID, summary.Status, summary.UpdatedAt, detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "Status", "Updated", "Detail"}, rows, nil))
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.status(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s: %s\n", status.ID, status.Status)
			if status.FailedStage != "" {
				fmt.Fprintf(out, "Failed stage: %s (%s)\n", status.FailedStage, status.Error)
			}
			if status.CacheHits > 0 {
				fmt.Fprintf(out, "Cache hits: %d\n", status.CacheHits)
			}
			if len(status.Stages) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(status.Stages))
			for _, stage := range status.Stages {
				rows = append(rows, []string{
					stage.Kind,
					strconv.Itoa(stage.Succeeded) + "/" + strconv.Itoa(stage.Total),
					strconv.Itoa(stage.Running),
					strconv.Itoa(stage.Retrying),
					strconv.Itoa(stage.Failed),
					strconv.Itoa(stage.Skipped),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Done", "Running", "Retrying", "Failed", "Skipped"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var since int64

	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "Print a job's recorded events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			events, err := client.events(args[0], since)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, event := range events {
				fmt.Fprintf(out, "%d %s %s", event.Seq, event.Timestamp.Format(time.RFC3339), event.Type)
				if event.NodeID != "" {
					fmt.Fprintf(out, " %s", event.NodeID)
				}
				if event.Message != "" {
					fmt.Fprintf(out, ": %s", event.Message)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "Only show events after this sequence number")
	return cmd
}

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "artifacts <job-id>",
		Short: "List a job's stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			artifacts, err := client.artifacts(args[0])
			if err != nil {
				return err
			}
			if output != "" {
				return downloadFinal(client, args[0], artifacts, output)
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No artifacts stored.")
				return nil
			}
			rows := make([][]string, 0, len(artifacts))
			for _, info := range artifacts {
				rows = append(rows, []string{info.NodeID, string(info.Kind), info.Key})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"Node", "Kind", "Key"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Download the final video to this path")
	return cmd
}

func downloadFinal(client *apiClient, id string, artifacts []job.ArtifactInfo, dest string) error {
	for _, info := range artifacts {
		if info.Kind != "final-video" {
			continue
		}
		file, err := os.Create(dest)
		if err != nil {
			return err
		}
		if err := client.download(id, info.Key, file); err != nil {
			file.Close()
			os.Remove(dest)
			return err
		}
		return file.Close()
	}
	return fmt.Errorf("job has no final video yet")
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cancellation requested.")
			return nil
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a failed or interrupted job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.resume(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Resume requested.")
			return nil
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Job deleted.")
			return nil
		},
	}
}

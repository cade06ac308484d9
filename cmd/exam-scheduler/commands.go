package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/repository"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var (
		req     dto.RunRequest
		enqueue bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule every exam and replace the stored timetable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			needDB := !enqueue && (req.SnapshotFile == "" || !req.DryRun)
			a, err := newApp(needDB)
			if err != nil {
				return err
			}
			defer a.close()

			if req.Mode == "" {
				req.Mode = a.cfg.Scheduler.DefaultMode
			}

			if enqueue {
				if err := a.queue.Push(ctx, req); err != nil {
					return err
				}
				printf("queued %s run\n", req.Mode)
				return nil
			}

			report, err := a.scheduling.Run(ctx, req)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(report)
			}
			printRunReport(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Mode, "mode", "", "Scheduling mode: fast (draft) or thorough (optimize)")
	cmd.Flags().StringVar(&req.SnapshotFile, "snapshot", "", "Load the snapshot from a JSON file instead of Postgres")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Compute the timetable without persisting it")
	cmd.Flags().BoolVar(&req.PersistPartial, "persist-partial", false, "Persist fast runs even when some exams are unassignable")
	cmd.Flags().BoolVar(&req.Validate, "validate", false, "Re-check the persisted timetable after the run")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Push the request onto the Redis run queue for serve workers")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the stored timetable against every hard constraint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.validation.Validate(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				if err := outputJSON(report); err != nil {
					return err
				}
			} else {
				printValidation(report)
			}
			if !report.Valid {
				return fmt.Errorf("%d violations found", len(report.Violations))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the stored timetable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.stats.Summary(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(summary)
			}
			printStats(summary)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var (
		req   dto.ExportRequest
		prune time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the stored timetable as CSV or PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.exportService()
			if err != nil {
				return err
			}
			if prune > 0 {
				deleted, err := svc.Prune(prune)
				if err != nil {
					return err
				}
				a.logger.Sugar().Infow("pruned exports", "count", len(deleted))
			}

			result, err := svc.Export(ctx, req)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(result)
			}
			printf("exported %d rows as %s to %s\n", result.Rows, result.Format, result.Location)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Format, "format", "csv", "Export format: csv or pdf")
	cmd.Flags().BoolVar(&req.Upload, "upload", false, "Upload to the configured S3 bucket instead of the local export directory")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete local exports older than this duration first")

	return cmd
}

func benchmarkCmd() *cobra.Command {
	var (
		mode     string
		snapshot string
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Time the load, graph and solve phases without persisting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(snapshot == "")
			if err != nil {
				return err
			}
			defer a.close()

			modes := []string{mode}
			if mode == "" {
				modes = []string{"fast", "thorough"}
			}
			reports := make([]*dto.BenchmarkReport, 0, len(modes))
			for _, m := range modes {
				report, err := a.scheduling.Benchmark(ctx, m, snapshot)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			}
			if flagJSON {
				return outputJSON(reports)
			}
			for _, r := range reports {
				printf("%-9s exams=%d rooms=%d staff=%d edges=%d scheduled=%d unassignable=%d load=%s graph=%s solve=%s total=%s\n",
					r.Mode, r.Exams, r.Rooms, r.Staff, r.Edges, r.Scheduled, r.Unassignable, r.Load, r.Graph, r.Solve, r.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Benchmark a single mode (default: all)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Load the snapshot from a JSON file instead of Postgres")

	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent persisted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.runs.ListRecent(ctx, limit)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(runs)
			}
			for _, run := range runs {
				printf("v%-4d %s %-8s success=%-5t scheduled=%d/%d elapsed=%dms %s\n",
					run.Version, run.CreatedAt.Format(time.RFC3339), run.Mode, run.Success, run.Scheduled, run.TotalExams, run.ElapsedMS, run.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with scheduling snapshots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump <file>",
		Short: "Write the current Postgres snapshot to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			snapshot, err := a.snapshots.Load(ctx)
			if err != nil {
				return err
			}
			if err := repository.WriteSnapshotFile(args[0], snapshot); err != nil {
				return err
			}
			printf("wrote %d exams, %d rooms, %d staff to %s\n", len(snapshot.Exams), len(snapshot.Rooms), len(snapshot.Staff), args[0])
			return nil
		},
	})
	return cmd
}

func printRunReport(r *dto.RunReport) {
	status := "complete"
	if !r.Success {
		status = "partial"
	}
	printf("run %s (%s): %s, %d/%d exams scheduled\n", r.RunID, r.Mode, status, r.Scheduled, r.TotalExams)
	printf("  conflict edges: %d\n", r.ConflictEdges)
	printf("  load %s, graph %s, solve %s, persist %s\n", r.LoadElapsed, r.GraphElapsed, r.Elapsed, r.PersistElapsed)
	if r.DeadlineHit {
		printf("  deadline exceeded before every exam was visited\n")
	}
	if len(r.SlotOverruns) > 0 {
		printf("  %d exams run past the start of the next slot\n", len(r.SlotOverruns))
	}
	if len(r.Unassignable) > 0 {
		ids := make([]string, 0, len(r.Unassignable))
		for _, id := range r.Unassignable {
			ids = append(ids, fmt.Sprint(id))
		}
		printf("  unassignable: %s\n", strings.Join(ids, ", "))
	}
	if r.Persisted {
		printf("  persisted as version %d\n", r.Version)
	} else {
		printf("  not persisted\n")
	}
	if r.Validation != nil {
		printValidation(r.Validation)
	}
}

func printValidation(r *dto.ValidationReport) {
	if r.Valid {
		printf("timetable valid: %d entries, no violations\n", r.Entries)
		return
	}
	printf("timetable invalid: %d entries, %d violations\n", r.Entries, len(r.Violations))
	for _, v := range r.Violations {
		printf("  %-20s exam %-6d %s\n", v.Constraint, v.ExamID, v.Detail)
	}
}

func printStats(s *dto.StatsSummary) {
	printf("exams per day:\n")
	for _, d := range s.ExamsByDay {
		printf("  %s  %d\n", d.Date, d.Count)
	}
	printf("room occupancy (%%):\n")
	for _, r := range s.RoomOccupancy {
		printf("  %-20s %6.2f\n", r.Name, r.Rate)
	}
	printf("supervision load:\n")
	for _, l := range s.SupervisionLoad {
		printf("  %-20s %d\n", l.Name, l.Count)
	}
	printf("status:\n")
	for status, count := range s.StatusCounts {
		printf("  %-15s %d\n", status, count)
	}
}

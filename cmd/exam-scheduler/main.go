package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
)

var flagJSON bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "exam-scheduler",
		Short: "Build conflict-free exam timetables",
		Long: `exam-scheduler loads exams, rooms, staff and enrollments, builds the
student conflict graph and assigns every exam a day, slot, room and
supervisor. The resulting timetable replaces the stored one atomically.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(benchmarkCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps typed errors to distinct process exit codes.
func exitCode(err error) int {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return 1
	}
	switch appErr.Code {
	case appErrors.ErrValidation.Code:
		return 2
	case appErrors.ErrSnapshotLoad.Code:
		return 3
	case appErrors.ErrPersist.Code:
		return 4
	case appErrors.ErrRunLocked.Code:
		return 5
	default:
		return 1
	}
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}

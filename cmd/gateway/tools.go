package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	auth "github.com/mind-engage/mindengage-placement/internal/auth/middleware"
	"github.com/mind-engage/mindengage-placement/internal/calibration"
	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/importer"
	"github.com/mind-engage/mindengage-placement/internal/storage"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

var (
	noSave     bool
	uploadedBy string
	userRole   string

	calibrateCmd = &cobra.Command{
		Use:   "calibrate",
		Short: "Analyze the whole question bank and print flagged questions",
		Args:  cobra.NoArgs,
		RunE:  runCalibrate,
	}
	importCmd = &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk import questions from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	hashPasswordCmd = &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASS_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	addUserCmd = &cobra.Command{
		Use:   "add-user <username> <password>",
		Short: "Create or update a user account",
		Args:  cobra.ExactArgs(2),
		RunE:  runAddUser,
	}
)

func init() {
	calibrateCmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist metrics or the report")
	importCmd.Flags().StringVar(&uploadedBy, "uploaded-by", "admin", "name recorded on the import")
	addUserCmd.Flags().StringVar(&userRole, "role", "student", "student, teacher or admin")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	dbh, drv, store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer dbh.Close()

	an := calibration.NewAnalyzer(store,
		calibration.WithEvents(syncx.NewEventRepo(dbh, drv)),
		calibration.WithLogger(log), calibration.WithWorkers(cfg.CalibrationWorkers))
	rep, err := an.Report(cmd.Context(), !noSave)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "questions: %d  needing review: %d\n", rep.TotalQuestions, rep.QuestionsNeedingReview)
	for _, l := range cefr.Levels {
		if acc, ok := rep.LevelAccuracy[l]; ok {
			fmt.Fprintf(out, "  %s well-calibrated: %.1f%%\n", l, acc)
		}
	}
	for _, f := range rep.Misclassified {
		rec := "-"
		if f.RecommendedLevel != nil {
			rec = string(*f.RecommendedLevel)
		}
		fmt.Fprintf(out, "  #%d %s -> %s (accuracy %.2f%%, %d attempts)\n",
			f.QuestionID, f.CurrentLevel, rec, f.AccuracyRate, f.TotalAttempts)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "  #%d failed: %s\n", f.QuestionID, f.Error)
	}
	for _, r := range rep.Recommendations {
		fmt.Fprintln(out, "*", r)
	}
	if rep.TotalQuestions > 0 && rep.QuestionsNeedingReview*5 > rep.TotalQuestions {
		log.Warn("more than 20% of the bank needs review", "flagged", rep.QuestionsNeedingReview, "total", rep.TotalQuestions)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if !strings.HasSuffix(strings.ToLower(args[0]), ".csv") {
		return errors.New("file must be a CSV")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	dbh, drv, store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer dbh.Close()
	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}

	im := importer.New(store, importer.WithBlobs(blobs),
		importer.WithEvents(syncx.NewEventRepo(dbh, drv)), importer.WithLogger(log))
	res, err := im.ImportCSV(cmd.Context(), f, uploadedBy)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "import %d: %d of %d rows imported, %d failed\n", res.ImportID, res.Successful, res.TotalRows, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  row %d: %s\n", e.Row, strings.Join(e.Errors, "; "))
	}
	return nil
}

func runAddUser(cmd *cobra.Command, args []string) error {
	dbh, drv, _, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer dbh.Close()

	ins, _, err := auth.NewSQLUsers(dbh, drv).Upsert(cmd.Context(), []auth.UserInput{
		{Username: args[0], Role: userRole, Password: args[1]},
	})
	if err != nil {
		return err
	}
	state := "updated"
	if ins > 0 {
		state = "created"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %s %s\n", args[0], state)
	return nil
}

package importer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	"github.com/mind-engage/mindengage-placement/internal/storage"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

func validRow() Row {
	return Row{
		QuestionText:  "She ___ to school every day.",
		QuestionType:  "multiple_choice",
		Level:         "A2",
		Skill:         "grammar",
		Options:       []string{"go", "goes", "", "going"},
		CorrectAnswer: " goes ",
		Explanation:   "third person singular",
	}
}

func TestValidateRowAcceptsTwoOptions(t *testing.T) {
	r := validRow()
	r.Options = []string{" go ", "goes"}
	assert.Empty(t, ValidateRow(r))
}

func TestValidateRowCollectsEveryProblem(t *testing.T) {
	r := Row{QuestionText: "  ", QuestionType: "essay", Level: "D1", Skill: "writing", Options: []string{"only", "  "}}
	assert.Equal(t, []string{
		"Question text is required",
		"Invalid question type: essay",
		"Invalid difficulty level: D1",
		"Invalid skill focus: writing",
		"At least 2 options required",
		"Correct answer is required",
	}, ValidateRow(r))
}

func TestValidateRowContainmentIsExact(t *testing.T) {
	r := validRow()
	r.CorrectAnswer = "Goes"
	assert.Equal(t, []string{"Correct answer 'Goes' not found in options"}, ValidateRow(r))

	r.CorrectAnswer = "goes."
	assert.Equal(t, []string{"Correct answer 'goes.' not found in options"}, ValidateRow(r))
}

func TestValidateRowTooManyOptions(t *testing.T) {
	r := validRow()
	r.Options = []string{"a", "b", "c", "d", "e", "f", "goes"}
	assert.Equal(t, []string{"Maximum 6 options allowed"}, ValidateRow(r))
}

func TestValidateRowTrimsCategories(t *testing.T) {
	r := validRow()
	r.QuestionType, r.Level, r.Skill = " fill_blank ", " C1", "reading "
	assert.Empty(t, ValidateRow(r))

	r.Level = "b1"
	assert.Equal(t, []string{"Invalid difficulty level: b1"}, ValidateRow(r))
}

const upload = `question_text,question_type,difficulty_level,skill_focus,option_1,option_2,option_3,correct_answer,explanation,notes
"Pick the past tense of go",multiple_choice,A1,grammar,went,goed,gone,went,irregular verb,x
,multiple_choice,A1,grammar,a,b,,a,,
Choose the synonym of big,multiple_choice,B1,vocabulary,large,small,,Large,,
`

func TestReadCSV(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(upload))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].Num)
	assert.Equal(t, 4, rows[2].Num)
	assert.Equal(t, "Pick the past tense of go", rows[0].QuestionText)
	assert.Equal(t, []string{"went", "goed", "gone", "", "", ""}, rows[0].Options)
	assert.Equal(t, "irregular verb", rows[0].Explanation)
}

func TestReadCSVMissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("question_text,question_type,option_1\nq,multiple_choice,a\n"))
	require.ErrorIs(t, err, exam.ErrValidation)
	var ve *exam.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"Missing required columns: difficulty_level, skill_focus, option_2, correct_answer"}, ve.Problems)

	_, err = ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, exam.ErrValidation)
}

type flakyStore struct {
	*exam.MemoryStore
	failText   string
	failErrLog bool
}

func (f *flakyStore) InsertQuestion(ctx context.Context, q exam.Question) (int64, error) {
	if q.Text == f.failText {
		return 0, errors.New("constraint failed")
	}
	return f.MemoryStore.InsertQuestion(ctx, q)
}

func (f *flakyStore) AppendImportError(ctx context.Context, importID int64, row int, msg string) error {
	if f.failErrLog {
		return errors.New("log unavailable")
	}
	return f.MemoryStore.AppendImportError(ctx, importID, row, msg)
}

func TestImportRecordsEveryRow(t *testing.T) {
	st := exam.NewInMemoryStore()
	events := &syncx.MemoryLog{}
	im := New(&flakyStore{MemoryStore: st, failText: "boom"}, WithEvents(events), WithLogger(logger.Nop()))
	ctx := context.Background()

	bad := validRow()
	bad.Level = "Z1"
	bad.CorrectAnswer = ""
	failing := validRow()
	failing.QuestionText = "boom"

	res, err := im.Import(ctx, []Row{validRow(), bad, failing, validRow()}, "")
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalRows)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.ValidationFailures)
	assert.Equal(t, 1, res.InsertFailures)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.ImportedIDs, 2)
	assert.Equal(t, []RowError{
		{Row: 3, Errors: []string{"Invalid difficulty level: Z1", "Correct answer is required"}},
		{Row: 4, Errors: []string{"Database error: constraint failed"}},
	}, res.Errors)

	q, err := st.GetQuestion(ctx, res.ImportedIDs[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "goes", "going"}, q.Options)
	assert.Equal(t, "goes", q.CorrectAnswer)
	require.NotNil(t, q.ImportID)
	assert.Equal(t, res.ImportID, *q.ImportID)

	hist, err := im.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, exam.ImportCompleted, hist[0].Status)
	assert.Equal(t, "admin", hist[0].UploadedBy)
	assert.Equal(t, 2, hist[0].SuccessfulImports)
	assert.Equal(t, 2, hist[0].FailedImports)
	assert.Equal(t, []exam.ImportError{
		{RowNum: 3, Message: "Invalid difficulty level: Z1; Correct answer is required"},
		{RowNum: 4, Message: "Database error: constraint failed"},
	}, hist[0].Errors)

	assert.Equal(t, []string{syncx.TypeQuestionsImported}, events.Types())
}

func TestImportSurvivesErrorLogFailure(t *testing.T) {
	st := exam.NewInMemoryStore()
	im := New(&flakyStore{MemoryStore: st, failErrLog: true}, WithLogger(logger.Nop()))
	bad := validRow()
	bad.QuestionText = ""

	res, err := im.Import(context.Background(), []Row{bad, validRow()}, "teacher")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)
}

func TestImportCSVArchivesUpload(t *testing.T) {
	st := exam.NewInMemoryStore()
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	im := New(st, WithBlobs(blobs), WithLogger(logger.Nop()))
	ctx := context.Background()

	res, err := im.ImportCSV(ctx, strings.NewReader(upload), "teacher")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 2, res.ValidationFailures)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, 4, res.Errors[1].Row)
	assert.Equal(t, []string{"Correct answer 'Large' not found in options"}, res.Errors[1].Errors)
	require.True(t, strings.HasPrefix(res.ArchiveKey, "imports/"))

	rc, err := blobs.Get(ctx, res.ArchiveKey)
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, upload, string(raw))

	hist, err := im.History(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, res.ArchiveKey, hist[0].ArchiveKey)
}

func TestCreateQuestionAndStats(t *testing.T) {
	st := exam.NewInMemoryStore()
	im := New(st)
	ctx := context.Background()

	_, err := im.CreateQuestion(ctx, Row{QuestionText: "x"})
	assert.ErrorIs(t, err, exam.ErrValidation)

	q, err := im.CreateQuestion(ctx, validRow())
	require.NoError(t, err)
	assert.NotZero(t, q.ID)
	assert.Equal(t, cefr.A2, q.Level)
	assert.Nil(t, q.ImportID)

	stats, err := im.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalQuestions)
	assert.Equal(t, []exam.BankCount{{Level: cefr.A2, Skill: cefr.Grammar, Count: 1}}, stats.ByTag)
}

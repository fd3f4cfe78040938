// Package importer validates candidate questions and loads them into the bank.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/grading"
	"github.com/mind-engage/mindengage-placement/internal/metrics"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	"github.com/mind-engage/mindengage-placement/internal/storage"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

const DefaultHistory = 20

// ValidateRow returns every check the row fails; an empty result means valid.
func ValidateRow(r Row) []string {
	var problems []string
	if strings.TrimSpace(r.QuestionText) == "" {
		problems = append(problems, "Question text is required")
	}
	if t := strings.TrimSpace(r.QuestionType); !cefr.QuestionType(t).Valid() {
		problems = append(problems, "Invalid question type: "+t)
	}
	if l := strings.TrimSpace(r.Level); !cefr.Level(l).Valid() {
		problems = append(problems, "Invalid difficulty level: "+l)
	}
	if s := strings.TrimSpace(r.Skill); !cefr.Skill(s).Valid() {
		problems = append(problems, "Invalid skill focus: "+s)
	}
	opts := options(r.Options)
	switch {
	case len(opts) < 2:
		problems = append(problems, "At least 2 options required")
	case len(opts) > MaxOptions:
		problems = append(problems, fmt.Sprintf("Maximum %d options allowed", MaxOptions))
	}
	answer := strings.TrimSpace(r.CorrectAnswer)
	if answer == "" {
		problems = append(problems, "Correct answer is required")
	} else if !grading.Contains(opts, answer) {
		problems = append(problems, fmt.Sprintf("Correct answer '%s' not found in options", answer))
	}
	return problems
}

// options trims each option and drops the blank ones.
func options(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// toQuestion assumes r passed ValidateRow.
func toQuestion(r Row) exam.Question {
	return exam.Question{
		Text:          strings.TrimSpace(r.QuestionText),
		Type:          cefr.QuestionType(strings.TrimSpace(r.QuestionType)),
		Level:         cefr.Level(strings.TrimSpace(r.Level)),
		Skill:         cefr.Skill(strings.TrimSpace(r.Skill)),
		Options:       options(r.Options),
		CorrectAnswer: strings.TrimSpace(r.CorrectAnswer),
		Explanation:   strings.TrimSpace(r.Explanation),
	}
}

type Store interface {
	GetQuestion(ctx context.Context, id int64) (exam.Question, error)
	InsertQuestion(ctx context.Context, q exam.Question) (int64, error)
	CountByTag(ctx context.Context) ([]exam.BankCount, error)
	exam.ImportLog
}

type Importer struct {
	store  Store
	blobs  storage.BlobStore
	events syncx.Appender
	log    *logger.Logger
	tracer trace.Tracer
}

type Option func(*Importer)

func WithBlobs(b storage.BlobStore) Option { return func(i *Importer) { i.blobs = b } }
func WithEvents(a syncx.Appender) Option { return func(i *Importer) { i.events = a } }
func WithLogger(l *logger.Logger) Option { return func(i *Importer) { i.log = l } }

func New(store Store, opts ...Option) *Importer {
	im := &Importer{
		store:  store,
		tracer: otel.Tracer("github.com/mind-engage/mindengage-placement/internal/importer"),
	}
	for _, o := range opts {
		o(im)
	}
	im.log = logger.OrNop(im.log)
	return im
}

type RowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

type Result struct {
	ImportID           int64      `json:"import_id"`
	TotalRows          int        `json:"total_rows"`
	Successful         int        `json:"successful_imports"`
	ValidationFailures int        `json:"validation_failures"`
	InsertFailures     int        `json:"insert_failures"`
	Failed             int        `json:"failed_imports"`
	Errors             []RowError `json:"errors"`
	ImportedIDs        []int64    `json:"imported_question_ids"`
	ArchiveKey         string     `json:"archive_key,omitempty"`
}

// Import attempts every row. Bad rows and failed inserts are recorded against
// the import and never stop the batch.
func (im *Importer) Import(ctx context.Context, rows []Row, uploadedBy string) (Result, error) {
	return im.run(ctx, rows, uploadedBy, "")
}

// ImportCSV archives the raw upload, then decodes and imports it.
func (im *Importer) ImportCSV(ctx context.Context, r io.Reader, uploadedBy string) (Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read upload: %w", err)
	}
	rows, err := ReadCSV(bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	var key string
	if im.blobs != nil {
		key, err = im.blobs.Put(ctx, "imports/"+uuid.NewString()+".csv", bytes.NewReader(raw))
		if err != nil {
			return Result{}, fmt.Errorf("archive upload: %w", err)
		}
	}
	return im.run(ctx, rows, uploadedBy, key)
}

func (im *Importer) run(ctx context.Context, rows []Row, uploadedBy, archiveKey string) (res Result, err error) {
	ctx, span := im.tracer.Start(ctx, "importer.Import", trace.WithAttributes(attribute.Int("rows", len(rows))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if uploadedBy == "" {
		uploadedBy = "admin"
	}

	id, err := im.store.CreateImport(ctx, exam.ImportRecord{
		UploadedBy: uploadedBy,
		TotalRows:  len(rows),
		ArchiveKey: archiveKey,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create import: %w", err)
	}
	res = Result{
		ImportID:    id,
		TotalRows:   len(rows),
		Errors:      []RowError{},
		ImportedIDs: []int64{},
		ArchiveKey:  archiveKey,
	}

	for i, row := range rows {
		num := row.Num
		if num == 0 {
			num = i + 2
		}
		if problems := ValidateRow(row); len(problems) > 0 {
			res.ValidationFailures++
			res.Errors = append(res.Errors, RowError{Row: num, Errors: problems})
			im.recordError(ctx, id, num, strings.Join(problems, "; "))
			continue
		}
		qid, err := im.store.InsertQuestion(ctx, withBatch(toQuestion(row), id))
		if err != nil {
			msg := "Database error: " + err.Error()
			res.InsertFailures++
			res.Errors = append(res.Errors, RowError{Row: num, Errors: []string{msg}})
			im.recordError(ctx, id, num, msg)
			continue
		}
		res.Successful++
		res.ImportedIDs = append(res.ImportedIDs, qid)
	}
	res.Failed = res.ValidationFailures + res.InsertFailures

	if err := im.store.FinishImport(ctx, id, res.Successful, res.Failed); err != nil {
		return Result{}, fmt.Errorf("finish import %d: %w", id, err)
	}
	metrics.ImportRows(res.Successful, res.ValidationFailures, res.InsertFailures)
	span.SetAttributes(attribute.Int64("import.id", id), attribute.Int("imported", res.Successful))
	if im.events != nil {
		if err := im.events.Append(ctx, syncx.TypeQuestionsImported, fmt.Sprint(id), map[string]any{
			"import_id":    id,
			"uploaded_by":  uploadedBy,
			"imported":     res.Successful,
			"failed":       res.Failed,
			"question_ids": res.ImportedIDs,
		}); err != nil {
			im.log.Warn("event append failed", "type", syncx.TypeQuestionsImported, "key", id, "error", err)
		}
	}
	im.log.Info("questions imported", "import_id", id, "total", res.TotalRows,
		"imported", res.Successful, "invalid", res.ValidationFailures, "insert_failed", res.InsertFailures)
	return res, nil
}

func (im *Importer) recordError(ctx context.Context, importID int64, row int, msg string) {
	if err := im.store.AppendImportError(ctx, importID, row, msg); err != nil {
		im.log.Error("record import error", "import_id", importID, "row", row, "error", err)
	}
}

func withBatch(q exam.Question, importID int64) exam.Question {
	q.ImportID = &importID
	return q
}

// CreateQuestion adds a single question after the same checks an import applies.
func (im *Importer) CreateQuestion(ctx context.Context, r Row) (exam.Question, error) {
	if problems := ValidateRow(r); len(problems) > 0 {
		return exam.Question{}, exam.NewValidationError(problems...)
	}
	id, err := im.store.InsertQuestion(ctx, toQuestion(r))
	if err != nil {
		return exam.Question{}, fmt.Errorf("insert question: %w", err)
	}
	im.log.Info("question created", "question_id", id)
	return im.store.GetQuestion(ctx, id)
}

// History lists imports newest first, each with its errors.
func (im *Importer) History(ctx context.Context, limit int) ([]exam.ImportRecord, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}
	recs, err := im.store.ListImports(ctx, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []exam.ImportRecord{}
	}
	return recs, nil
}

type Stats struct {
	TotalQuestions int              `json:"total_questions"`
	ByTag          []exam.BankCount `json:"by_level_and_skill"`
}

func (im *Importer) Stats(ctx context.Context) (Stats, error) {
	counts, err := im.store.CountByTag(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByTag: counts}
	if st.ByTag == nil {
		st.ByTag = []exam.BankCount{}
	}
	for _, c := range counts {
		st.TotalQuestions += c.Count
	}
	return st, nil
}

package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mind-engage/mindengage-placement/internal/exam"
)

var requiredColumns = []string{
	"question_text", "question_type", "difficulty_level", "skill_focus",
	"option_1", "option_2", "correct_answer",
}

// MaxOptions is the widest option set a question may carry.
const MaxOptions = 6

// Row is one candidate question as supplied by an upload.
type Row struct {
	Num           int      `json:"-"`
	QuestionText  string   `json:"question_text"`
	QuestionType  string   `json:"question_type"`
	Level         string   `json:"difficulty_level"`
	Skill         string   `json:"skill_focus"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// ReadCSV decodes an upload. The header must carry every required column;
// option_3..option_6 and explanation are optional and unknown columns are ignored.
// Row numbers count the header as row 1.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, exam.NewValidationError("CSV file is empty")
	}
	if err != nil {
		return nil, exam.NewValidationError("bad csv: " + err.Error())
	}

	idx := map[string]int{}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, exam.NewValidationError("Missing required columns: " + strings.Join(missing, ", "))
	}

	var rows []Row
	for n := 0; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, exam.NewValidationError(fmt.Sprintf("bad csv at row %d: %v", n+2, err))
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		row := Row{
			Num:           n + 2,
			QuestionText:  get("question_text"),
			QuestionType:  get("question_type"),
			Level:         get("difficulty_level"),
			Skill:         get("skill_focus"),
			CorrectAnswer: get("correct_answer"),
			Explanation:   get("explanation"),
		}
		for i := 1; i <= MaxOptions; i++ {
			row.Options = append(row.Options, get(fmt.Sprintf("option_%d", i)))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

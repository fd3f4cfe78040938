package http

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
	auth "github.com/mind-engage/mindengage-placement/internal/auth/middleware"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
)

// POST /api/users/bulk
// Accepts a multipart file (CSV or JSON) or a raw JSON array.
func BulkUpsertUsersHandler(users auth.UserStore, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		var (
			rows []auth.UserInput
			err  error
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, ferr := r.FormFile("file")
			if ferr != nil {
				apierr.Write(w, apierr.New(http.StatusBadRequest, apierr.CodeBadRequest, "file required"))
				return
			}
			defer f.Close()
			rows, err = readUsers(f)
		} else if jerr := json.NewDecoder(r.Body).Decode(&rows); jerr != nil {
			err = exam.NewValidationError("expected JSON array or multipart file")
		}
		if err != nil {
			fail(w, r, log, err)
			return
		}
		for i := range rows {
			rows[i].Username = strings.TrimSpace(rows[i].Username)
			rows[i].Role = strings.ToLower(strings.TrimSpace(rows[i].Role))
			if err := checkStruct(&rows[i]); err != nil {
				fail(w, r, log, err)
				return
			}
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}
		ins, upd, err := users.Upsert(r.Context(), rows)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		log.Info("users upserted", "inserted", ins, "updated", upd)
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /api/users?role=
func ListUsersHandler(users auth.UserStore, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := users.List(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// readUsers sniffs the first non-space byte to pick JSON or CSV.
func readUsers(r io.Reader) ([]auth.UserInput, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, exam.NewValidationError("empty file")
		}
		if b[0] == ' ' || b[0] == '\t' || b[0] == '\r' || b[0] == '\n' {
			_, _ = br.ReadByte()
			continue
		}
		if b[0] == '[' {
			var rows []auth.UserInput
			if err := json.NewDecoder(br).Decode(&rows); err != nil {
				return nil, exam.NewValidationError("bad json: " + err.Error())
			}
			return rows, nil
		}
		return readUsersCSV(br)
	}
}

func readUsersCSV(r io.Reader) ([]auth.UserInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	hdr, err := cr.Read()
	if err != nil {
		return nil, exam.NewValidationError("bad csv: " + err.Error())
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["username"]; !ok {
		return nil, exam.NewValidationError("missing column: username")
	}
	get := func(rec []string, col string) string {
		if i, ok := idx[col]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	var rows []auth.UserInput
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, exam.NewValidationError(fmt.Sprintf("bad csv at line %d: %v", line, err))
		}
		rows = append(rows, auth.UserInput{
			Username: get(rec, "username"),
			Role:     get(rec, "role"),
			Password: get(rec, "password"),
		})
	}
	return rows, nil
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("cefr_level", func(fl validator.FieldLevel) bool {
		return cefr.Level(strings.TrimSpace(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("cefr_skill", func(fl validator.FieldLevel) bool {
		return cefr.Skill(strings.TrimSpace(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return cefr.QuestionType(strings.TrimSpace(fl.Field().String())).Valid()
	})
	return v
}

// checkStruct turns validator failures into a domain validation error.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return exam.NewValidationError(err.Error())
	}
	problems := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return exam.NewValidationError(problems...)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return exam.NewValidationError("bad json: " + err.Error())
	}
	return nil
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := readJSON(w, r, dst); err != nil {
		return err
	}
	return checkStruct(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes err and logs server-side faults.
func fail(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	ae := apierr.Write(w, err)
	if ae.Status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", ae.Code, "error", err)
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, exam.NewValidationError(fmt.Sprintf("invalid %s: %q", name, raw))
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, exam.NewValidationError(fmt.Sprintf("invalid %s: %q", name, raw))
	}
	return n, nil
}

func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, exam.NewValidationError(fmt.Sprintf("invalid %s: %q", name, raw))
	}
	return b, nil
}

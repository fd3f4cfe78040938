package http

import (
	"net/http"
	"strconv"

	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

// GET /api/events?since=&limit=
func EventsHandler(feed syncx.Feed, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				fail(w, r, log, exam.NewValidationError("invalid since: "+strconv.Quote(raw)))
				return
			}
			since = n
		}
		limit, err := queryInt(r, "limit", 100)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		evs, err := feed.Since(r.Context(), since, limit)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		if evs == nil {
			evs = []syncx.Event{}
		}
		next := since
		if len(evs) > 0 {
			next = evs[len(evs)-1].Seq
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": evs, "next": next})
	}
}

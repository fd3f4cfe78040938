package exam

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
)

// MemoryStore is an in-process Store used by tests and the offline demo.
// It enforces the same uniqueness rules as the SQL schema.
type MemoryStore struct {
	mu  sync.RWMutex
	rnd *rand.Rand
	now func() time.Time

	students  map[int64]bool
	questions map[int64]Question
	sessions  map[int64]Session
	responses map[int64][]Response // by session, ordered by sequence
	metrics   map[int64]QuestionMetrics
	reports   []CalibrationReport
	reclass   []Reclassification
	imports   []ImportRecord

	nextID int64
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		students:  map[int64]bool{},
		questions: map[int64]Question{},
		sessions:  map[int64]Session{},
		responses: map[int64][]Response{},
		metrics:   map[int64]QuestionMetrics{},
	}
}

// Seed makes random selection reproducible.
func (m *MemoryStore) Seed(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rnd = rand.New(rand.NewSource(seed))
}

// SetClock replaces the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) AddStudent(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[id] = true
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// ---- question bank ----

func (m *MemoryStore) RandomByTag(_ context.Context, level cefr.Level, skill cefr.Skill, exclude []int64) (*Question, error) {
	return m.pick(func(q Question) bool { return q.Level == level && q.Skill == skill }, exclude), nil
}

func (m *MemoryStore) RandomByLevel(_ context.Context, level cefr.Level, exclude []int64) (*Question, error) {
	return m.pick(func(q Question) bool { return q.Level == level }, exclude), nil
}

func (m *MemoryStore) pick(match func(Question) bool, exclude []int64) *Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var ids []int64
	for id, q := range m.questions {
		if !skip[id] && match(q) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	q := cloneQuestion(m.questions[ids[m.rnd.Intn(len(ids))]])
	return &q
}

func (m *MemoryStore) GetQuestion(_ context.Context, id int64) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return Question{}, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	return cloneQuestion(q), nil
}

func (m *MemoryStore) InsertQuestion(_ context.Context, q Question) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = m.id()
	q.CreatedAt = m.now().Unix()
	m.questions[q.ID] = cloneQuestion(q)
	return q.ID, nil
}

func (m *MemoryStore) ListQuestionIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.questions))
	for id := range m.questions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) CountByTag(_ context.Context) ([]BankCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[BankCount]int{}
	for _, q := range m.questions {
		counts[BankCount{Level: q.Level, Skill: q.Skill}]++
	}
	out := make([]BankCount, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Skill < out[j].Skill
	})
	return out, nil
}

// ---- responses ----

func (m *MemoryStore) AppendResponse(_ context.Context, r Response) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[r.SessionID]; !ok {
		return Response{}, fmt.Errorf("session %d: %w", r.SessionID, ErrNotFound)
	}
	return m.appendLocked(r)
}

func (m *MemoryStore) appendLocked(r Response) (Response, error) {
	for _, prev := range m.responses[r.SessionID] {
		if prev.Sequence == r.Sequence {
			return Response{}, fmt.Errorf("response %d/%d already recorded: %w", r.SessionID, r.Sequence, ErrConflict)
		}
	}
	r.ID = m.id()
	if r.AnsweredAt == 0 {
		r.AnsweredAt = m.now().Unix()
	}
	list := append(m.responses[r.SessionID], r)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	m.responses[r.SessionID] = list
	return r, nil
}

func (m *MemoryStore) RecordAnswer(_ context.Context, r Response) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[r.SessionID]
	if !ok {
		return Response{}, fmt.Errorf("session %d: %w", r.SessionID, ErrNotFound)
	}
	if s.Closed() {
		return Response{}, fmt.Errorf("session %d: %w", r.SessionID, ErrSessionClosed)
	}
	saved, err := m.appendLocked(r)
	if err != nil {
		return Response{}, err
	}
	s.QuestionsAnswered++
	if r.Correct {
		s.CorrectAnswers++
	}
	s.TotalTimeSec += r.TimeTakenSec
	s.CurrentQuestionID = nil
	m.sessions[r.SessionID] = s
	return saved, nil
}

func (m *MemoryStore) ResponseHistory(_ context.Context, sessionID int64) ([]Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Response(nil), m.responses[sessionID]...), nil
}

func (m *MemoryStore) CompletedResponsesForQuestion(_ context.Context, questionID int64) ([]CompletedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sids []int64
	for sid := range m.responses {
		sids = append(sids, sid)
	}
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })

	var out []CompletedResponse
	for _, sid := range sids {
		s := m.sessions[sid]
		if !s.Closed() {
			continue
		}
		for _, r := range m.responses[sid] {
			if r.QuestionID == questionID {
				out = append(out, CompletedResponse{Response: r, FinalLevel: s.DetectedLevel})
			}
		}
	}
	return out, nil
}

// ---- sessions ----

func (m *MemoryStore) StudentExists(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.students[id], nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.sessions {
		if other.StudentID == s.StudentID && !other.Closed() {
			return Session{}, fmt.Errorf("student %d already has open session %d: %w", s.StudentID, other.ID, ErrConflict)
		}
	}
	s.ID = m.id()
	s.StartedAt = m.now().Unix()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id int64) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) SetPendingQuestion(_ context.Context, sessionID int64, questionID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	s.CurrentQuestionID = questionID
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) CompleteSession(_ context.Context, sessionID int64, c Completion) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if s.Closed() {
		return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrSessionClosed)
	}
	at := c.CompletedAt.Unix()
	lvl, conf := c.Level, c.Confidence
	s.CompletedAt, s.DetectedLevel, s.Confidence = &at, &lvl, &conf
	s.CurrentQuestionID = nil
	if s.SelfReported != nil {
		d := s.SelfReported.Index() - lvl.Index()
		s.LevelDifference = &d
	}
	m.sessions[sessionID] = s
	return s, nil
}

func (m *MemoryStore) CancelSession(_ context.Context, sessionID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if s.Closed() {
		return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrSessionClosed)
	}
	at := m.now().Unix()
	s.CompletedAt = &at
	s.CurrentQuestionID = nil
	m.sessions[sessionID] = s
	return s, nil
}

func (m *MemoryStore) ListSessionsForStudent(_ context.Context, studentID int64, limit int) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- calibration ----

func (m *MemoryStore) UpsertMetrics(_ context.Context, qm QuestionMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	qm.CalculatedAt = m.now().Unix()
	levels := make(map[cefr.Level]int, len(qm.LevelsAttempted))
	for k, v := range qm.LevelsAttempted {
		levels[k] = v
	}
	qm.LevelsAttempted = levels
	m.metrics[qm.QuestionID] = qm
	return nil
}

// Metrics returns the stored metrics row for a question.
func (m *MemoryStore) Metrics(questionID int64) (QuestionMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qm, ok := m.metrics[questionID]
	return qm, ok
}

func (m *MemoryStore) QuestionsNeedingReview(_ context.Context, minAttempts int) ([]ReviewItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ReviewItem
	for qid, qm := range m.metrics {
		q, ok := m.questions[qid]
		if !ok || !qm.NeedsReview || qm.TotalAttempts < minAttempts {
			continue
		}
		out = append(out, ReviewItem{QuestionMetrics: qm, Question: cloneQuestion(q)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore < out[j].ConfidenceScore
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (m *MemoryStore) SaveReport(_ context.Context, r CalibrationReport) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	m.reports = append(m.reports, r)
	return r.ID, nil
}

func (m *MemoryStore) ListReports(_ context.Context, limit int) ([]CalibrationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CalibrationReport
	for i := len(m.reports) - 1; i >= 0; i-- {
		out = append(out, m.reports[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ReclassifyQuestion(_ context.Context, r Reclassification) (Reclassification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[r.QuestionID]
	if !ok {
		return Reclassification{}, fmt.Errorf("question %d: %w", r.QuestionID, ErrNotFound)
	}
	r.OldLevel = q.Level
	q.Level = r.NewLevel
	m.questions[q.ID] = q
	r.ID = m.id()
	r.ReclassifiedAt = m.now().Unix()
	m.reclass = append(m.reclass, r)
	return r, nil
}

func (m *MemoryStore) ReclassificationHistory(_ context.Context, questionID int64) ([]Reclassification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reclassification
	for i := len(m.reclass) - 1; i >= 0; i-- {
		if m.reclass[i].QuestionID == questionID {
			out = append(out, m.reclass[i])
		}
	}
	return out, nil
}

// ---- import log ----

func (m *MemoryStore) CreateImport(_ context.Context, rec ImportRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	rec.Status = ImportProcessing
	rec.CreatedAt = m.now().Unix()
	rec.Errors = nil
	m.imports = append(m.imports, rec)
	return rec.ID, nil
}

func (m *MemoryStore) AppendImportError(_ context.Context, importID int64, rowNum int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.imports {
		if m.imports[i].ID == importID {
			m.imports[i].Errors = append(m.imports[i].Errors, ImportError{RowNum: rowNum, Message: message})
			return nil
		}
	}
	return fmt.Errorf("import %d: %w", importID, ErrNotFound)
}

func (m *MemoryStore) FinishImport(_ context.Context, importID int64, successful, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.imports {
		if m.imports[i].ID == importID {
			at := m.now().Unix()
			m.imports[i].SuccessfulImports = successful
			m.imports[i].FailedImports = failed
			m.imports[i].Status = ImportCompleted
			m.imports[i].CompletedAt = &at
			return nil
		}
	}
	return fmt.Errorf("import %d: %w", importID, ErrNotFound)
}

func (m *MemoryStore) ListImports(_ context.Context, limit int) ([]ImportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ImportRecord
	for i := len(m.imports) - 1; i >= 0; i-- {
		rec := m.imports[i]
		errs := append([]ImportError(nil), rec.Errors...)
		sort.SliceStable(errs, func(a, b int) bool { return errs[a].RowNum < errs[b].RowNum })
		rec.Errors = errs
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneQuestion(q Question) Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}

var _ Store = (*MemoryStore)(nil)

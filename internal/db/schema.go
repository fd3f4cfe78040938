package db

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL DEFAULT 'student',
  password_hash TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS adaptive_assessment_questions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  question_text TEXT NOT NULL,
  question_type TEXT NOT NULL,
  difficulty_level TEXT NOT NULL,
  skill_focus TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_answer TEXT NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  next_question_if_correct INTEGER,
  next_question_if_incorrect INTEGER,
  average_time_seconds INTEGER,
  imported_from_batch_id INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_tag ON adaptive_assessment_questions(difficulty_level, skill_focus);

CREATE TABLE IF NOT EXISTS assessment_sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  student_id INTEGER NOT NULL REFERENCES users(id),
  assessment_type TEXT NOT NULL DEFAULT 'initial',
  started_at INTEGER NOT NULL,
  completed_at INTEGER,
  final_detected_level TEXT,
  confidence_score REAL,
  self_reported_level TEXT,
  questions_answered INTEGER NOT NULL DEFAULT 0,
  correct_answers INTEGER NOT NULL DEFAULT 0,
  total_time_seconds INTEGER NOT NULL DEFAULT 0,
  level_difference INTEGER,
  current_question_id INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_open_student
  ON assessment_sessions(student_id) WHERE completed_at IS NULL;

CREATE TABLE IF NOT EXISTS assessment_responses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL REFERENCES assessment_sessions(id) ON DELETE CASCADE,
  question_id INTEGER NOT NULL REFERENCES adaptive_assessment_questions(id),
  sequence INTEGER NOT NULL,
  student_answer TEXT NOT NULL,
  is_correct INTEGER NOT NULL,
  time_taken_seconds INTEGER NOT NULL,
  level_at_question TEXT NOT NULL,
  skill_at_question TEXT NOT NULL,
  answered_at INTEGER NOT NULL,
  UNIQUE (session_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_responses_question ON assessment_responses(question_id);

CREATE TABLE IF NOT EXISTS question_validation_metrics (
  question_id INTEGER PRIMARY KEY REFERENCES adaptive_assessment_questions(id) ON DELETE CASCADE,
  total_attempts INTEGER NOT NULL,
  correct_attempts INTEGER NOT NULL,
  accuracy_rate REAL NOT NULL,
  avg_time_seconds REAL NOT NULL,
  student_levels_attempted TEXT NOT NULL,
  expected_level TEXT NOT NULL,
  recommended_level TEXT,
  confidence_score REAL NOT NULL,
  needs_review INTEGER NOT NULL,
  last_calculated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS calibration_reports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  total_questions INTEGER NOT NULL,
  questions_needing_review INTEGER NOT NULL,
  misclassified_json TEXT NOT NULL,
  level_accuracy_json TEXT NOT NULL,
  recommendations_json TEXT NOT NULL,
  failures_json TEXT NOT NULL DEFAULT '[]',
  generated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS question_reclassification_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  question_id INTEGER NOT NULL REFERENCES adaptive_assessment_questions(id) ON DELETE CASCADE,
  old_level TEXT NOT NULL,
  new_level TEXT NOT NULL,
  reclassified_by TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  reclassified_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS question_import_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uploaded_by TEXT NOT NULL,
  total_rows INTEGER NOT NULL,
  successful_imports INTEGER NOT NULL DEFAULT 0,
  failed_imports INTEGER NOT NULL DEFAULT 0,
  import_status TEXT NOT NULL,
  archive_key TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS question_import_errors (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  import_id INTEGER NOT NULL REFERENCES question_import_history(id) ON DELETE CASCADE,
  row_num INTEGER NOT NULL,
  error_message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL DEFAULT 'student',
  password_hash TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS adaptive_assessment_questions (
  id BIGSERIAL PRIMARY KEY,
  question_text TEXT NOT NULL,
  question_type TEXT NOT NULL,
  difficulty_level TEXT NOT NULL,
  skill_focus TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_answer TEXT NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  next_question_if_correct BIGINT,
  next_question_if_incorrect BIGINT,
  average_time_seconds INTEGER,
  imported_from_batch_id BIGINT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_tag ON adaptive_assessment_questions(difficulty_level, skill_focus);

CREATE TABLE IF NOT EXISTS assessment_sessions (
  id BIGSERIAL PRIMARY KEY,
  student_id BIGINT NOT NULL REFERENCES users(id),
  assessment_type TEXT NOT NULL DEFAULT 'initial',
  started_at BIGINT NOT NULL,
  completed_at BIGINT,
  final_detected_level TEXT,
  confidence_score DOUBLE PRECISION,
  self_reported_level TEXT,
  questions_answered INTEGER NOT NULL DEFAULT 0,
  correct_answers INTEGER NOT NULL DEFAULT 0,
  total_time_seconds INTEGER NOT NULL DEFAULT 0,
  level_difference INTEGER,
  current_question_id BIGINT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_open_student
  ON assessment_sessions(student_id) WHERE completed_at IS NULL;

CREATE TABLE IF NOT EXISTS assessment_responses (
  id BIGSERIAL PRIMARY KEY,
  session_id BIGINT NOT NULL REFERENCES assessment_sessions(id) ON DELETE CASCADE,
  question_id BIGINT NOT NULL REFERENCES adaptive_assessment_questions(id),
  sequence INTEGER NOT NULL,
  student_answer TEXT NOT NULL,
  is_correct BOOLEAN NOT NULL,
  time_taken_seconds INTEGER NOT NULL,
  level_at_question TEXT NOT NULL,
  skill_at_question TEXT NOT NULL,
  answered_at BIGINT NOT NULL,
  UNIQUE (session_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_responses_question ON assessment_responses(question_id);

CREATE TABLE IF NOT EXISTS question_validation_metrics (
  question_id BIGINT PRIMARY KEY REFERENCES adaptive_assessment_questions(id) ON DELETE CASCADE,
  total_attempts INTEGER NOT NULL,
  correct_attempts INTEGER NOT NULL,
  accuracy_rate DOUBLE PRECISION NOT NULL,
  avg_time_seconds DOUBLE PRECISION NOT NULL,
  student_levels_attempted TEXT NOT NULL,
  expected_level TEXT NOT NULL,
  recommended_level TEXT,
  confidence_score DOUBLE PRECISION NOT NULL,
  needs_review BOOLEAN NOT NULL,
  last_calculated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS calibration_reports (
  id BIGSERIAL PRIMARY KEY,
  total_questions INTEGER NOT NULL,
  questions_needing_review INTEGER NOT NULL,
  misclassified_json TEXT NOT NULL,
  level_accuracy_json TEXT NOT NULL,
  recommendations_json TEXT NOT NULL,
  failures_json TEXT NOT NULL DEFAULT '[]',
  generated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS question_reclassification_history (
  id BIGSERIAL PRIMARY KEY,
  question_id BIGINT NOT NULL REFERENCES adaptive_assessment_questions(id) ON DELETE CASCADE,
  old_level TEXT NOT NULL,
  new_level TEXT NOT NULL,
  reclassified_by TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  reclassified_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS question_import_history (
  id BIGSERIAL PRIMARY KEY,
  uploaded_by TEXT NOT NULL,
  total_rows INTEGER NOT NULL,
  successful_imports INTEGER NOT NULL DEFAULT 0,
  failed_imports INTEGER NOT NULL DEFAULT 0,
  import_status TEXT NOT NULL,
  archive_key TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  completed_at BIGINT
);

CREATE TABLE IF NOT EXISTS question_import_errors (
  id BIGSERIAL PRIMARY KEY,
  import_id BIGINT NOT NULL REFERENCES question_import_history(id) ON DELETE CASCADE,
  row_num INTEGER NOT NULL,
  error_message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`

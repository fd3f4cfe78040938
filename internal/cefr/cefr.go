// Package cefr holds the fixed enumerations shared by the placement engine:
// proficiency levels, assessed skills, question types and session kinds.
package cefr

import "fmt"

// Level is one of the six CEFR tiers. Levels are totally ordered by Index.
type Level string

const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
	C2 Level = "C2"
)

// Levels lists the tiers from lowest to highest.
var Levels = []Level{A1, A2, B1, B2, C1, C2}

// Index returns the position of l in Levels, or -1 if l is not a valid tier.
func (l Level) Index() int {
	for i, v := range Levels {
		if v == l {
			return i
		}
	}
	return -1
}

func (l Level) Valid() bool { return l.Index() >= 0 }

// Up returns the next tier. C2 stays C2.
func (l Level) Up() Level {
	i := l.Index()
	if i < 0 || i == len(Levels)-1 {
		return l
	}
	return Levels[i+1]
}

// Down returns the previous tier. A1 stays A1.
func (l Level) Down() Level {
	i := l.Index()
	if i <= 0 {
		return l
	}
	return Levels[i-1]
}

func (l Level) IsTop() bool    { return l == C2 }
func (l Level) IsBottom() bool { return l == A1 }

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("invalid level %q", s)
	}
	return l, nil
}

// Skill is an assessed competency.
type Skill string

const (
	Grammar    Skill = "grammar"
	Vocabulary Skill = "vocabulary"
	Reading    Skill = "reading"
	Listening  Skill = "listening"
)

// Skills is the fixed round-robin order.
var Skills = []Skill{Grammar, Vocabulary, Reading, Listening}

func (s Skill) Valid() bool {
	for _, v := range Skills {
		if v == s {
			return true
		}
	}
	return false
}

func ParseSkill(s string) (Skill, error) {
	k := Skill(s)
	if !k.Valid() {
		return "", fmt.Errorf("invalid skill %q", s)
	}
	return k, nil
}

// SkillAt returns the skill for a rotation cursor.
func SkillAt(cursor int) Skill {
	if cursor < 0 {
		cursor = -cursor
	}
	return Skills[cursor%len(Skills)]
}

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	FillBlank      QuestionType = "fill_blank"
	Ordering       QuestionType = "ordering"
	AudioResponse  QuestionType = "audio_response"
)

var QuestionTypes = []QuestionType{MultipleChoice, FillBlank, Ordering, AudioResponse}

func (t QuestionType) Valid() bool {
	for _, v := range QuestionTypes {
		if v == t {
			return true
		}
	}
	return false
}

type SessionKind string

const (
	Initial        SessionKind = "initial"
	PeriodicRetest SessionKind = "periodic_retest"
)

func (k SessionKind) Valid() bool { return k == Initial || k == PeriodicRetest }

package cefr

import "testing"

func TestLevelStepsClampAtBoundaries(t *testing.T) {
	if got := C2.Up(); got != C2 {
		t.Fatalf("C2.Up() = %s, want C2", got)
	}
	if got := A1.Down(); got != A1 {
		t.Fatalf("A1.Down() = %s, want A1", got)
	}
	if got := B1.Up(); got != B2 {
		t.Fatalf("B1.Up() = %s, want B2", got)
	}
	if got := B1.Down(); got != A2 {
		t.Fatalf("B1.Down() = %s, want A2", got)
	}
}

func TestAnyStepSequenceStaysValid(t *testing.T) {
	l := B1
	moves := []bool{true, true, true, true, true, false, false, false, false, false, false, false, true}
	for i, up := range moves {
		if up {
			l = l.Up()
		} else {
			l = l.Down()
		}
		if !l.Valid() {
			t.Fatalf("step %d produced invalid level %q", i, l)
		}
	}
	if l != A2 {
		t.Fatalf("final level = %s, want A2", l)
	}
}

func TestParse(t *testing.T) {
	if _, err := ParseLevel("b1"); err == nil {
		t.Fatal("lowercase level should be rejected")
	}
	if l, err := ParseLevel("C1"); err != nil || l != C1 {
		t.Fatalf("ParseLevel(C1) = %q, %v", l, err)
	}
	if _, err := ParseSkill("writing"); err == nil {
		t.Fatal("writing is not an assessed skill")
	}
	if !Ordering.Valid() || QuestionType("essay").Valid() {
		t.Fatal("question type validity mismatch")
	}
}

func TestSkillAtRotates(t *testing.T) {
	for i, want := range []Skill{Grammar, Vocabulary, Reading, Listening, Grammar} {
		if got := SkillAt(i); got != want {
			t.Errorf("SkillAt(%d) = %s, want %s", i, got, want)
		}
	}
}

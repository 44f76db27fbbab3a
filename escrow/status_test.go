package escrow

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusPending, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusDisputed, true},
		{StatusActive, StatusPending, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusCancelled, true},
		{StatusActive, StatusDisputed, true},
		{StatusActive, StatusActive, false},
		{StatusDisputed, StatusActive, true},
		{StatusDisputed, StatusCompleted, true},
		{StatusDisputed, StatusCancelled, false},
		{StatusDisputed, StatusPending, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusActive, false},
		{StatusCancelled, StatusCompleted, false},
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !Terminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusActive, StatusDisputed} {
		if Terminal(s) {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestValidStatusAndType(t *testing.T) {
	if ValidStatus("shipped") {
		t.Error("unexpected valid status")
	}
	if !ValidStatus(StatusDisputed) {
		t.Error("disputed should be valid")
	}
	if ValidType("partial") {
		t.Error("unexpected valid type")
	}
	if !ValidType(TypeMilestone) {
		t.Error("milestone should be valid")
	}
}

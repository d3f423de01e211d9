package main

import (
	"strings"
	"testing"

	"github.com/example/car-relay/internal/notify"
)

func TestSubjectFor_KnownTypes(t *testing.T) {
	cases := []struct {
		ev   notify.Event
		want string
	}{
		{notify.Event{Type: notify.EventRequestCreated}, "live"},
		{notify.Event{Type: notify.EventBidSubmitted}, "offer"},
		{notify.Event{Type: notify.EventDriverSelected}, "selected"},
		{notify.Event{Type: notify.EventStatusChanged, Data: map[string]string{"status": "COMPLETED"}}, "COMPLETED"},
		{notify.Event{Type: notify.EventDriverVerified}, "verified"},
		{notify.Event{Type: notify.EventDriverRejected}, "attention"},
	}
	for _, c := range cases {
		got := subjectFor(c.ev)
		if got == "" {
			t.Fatalf("no subject for type %s", c.ev.Type)
		}
		if !strings.Contains(got, c.want) {
			t.Fatalf("subject for %s = %q, want it to mention %q", c.ev.Type, got, c.want)
		}
	}
}

func TestSubjectFor_UnknownTypeDropped(t *testing.T) {
	if got := subjectFor(notify.Event{Type: "something.else"}); got != "" {
		t.Fatalf("expected empty subject, got %q", got)
	}
}

package store

import (
	"reflect"
	"testing"
)

func TestParticipantsKey_OrderIndependent(t *testing.T) {
	t.Parallel()

	perms := [][]string{
		{"+15551234567", "+15559876543"},
		{"+15559876543", "+15551234567"},
	}
	want := "+15551234567|+15559876543"
	for _, p := range perms {
		if got := ParticipantsKey(p); got != want {
			t.Fatalf("ParticipantsKey(%v)=%q, want %q", p, got, want)
		}
	}
}

func TestParticipantsKey_TrimsAndSkipsEmpty(t *testing.T) {
	t.Parallel()

	got := ParticipantsKey([]string{" +15550000001 ", "", "+15550000002"})
	if got != "+15550000001|+15550000002" {
		t.Fatalf("ParticipantsKey=%q", got)
	}
}

func TestParticipantsKey_DistinctSetsDiffer(t *testing.T) {
	t.Parallel()

	a := ParticipantsKey([]string{"+15550000001", "+15550000002"})
	b := ParticipantsKey([]string{"+15550000001", "+15550000003"})
	if a == b {
		t.Fatalf("keys collide: %q", a)
	}
}

func TestSplitParticipantsKey_RoundTrip(t *testing.T) {
	t.Parallel()

	key := ParticipantsKey([]string{"+15559876543", "+15551234567", "+15550001111"})
	got := splitParticipantsKey(key)
	want := []string{"+15550001111", "+15551234567", "+15559876543"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitParticipantsKey=%v, want %v", got, want)
	}

	if splitParticipantsKey("") != nil {
		t.Fatalf("empty key should split to nil")
	}
}

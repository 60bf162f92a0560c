package proxy_test

import (
	"os"
	"testing"
	"time"

	"github.com/circlemind-ai/smooth-sdk/internal/proxy"
)

func TestStateRoundtrip(t *testing.T) {
	t.Setenv("SMOOTH_HOME", t.TempDir())

	if s, err := proxy.LoadState(); err != nil || s != nil {
		t.Fatalf("expected no state, got %+v, %v", s, err)
	}

	want := proxy.State{
		PID:        os.Getpid(),
		ServerAddr: "proxy.example.com:7000",
		Username:   "default",
		Password:   "secret",
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := proxy.SaveState(want); err != nil {
		t.Fatalf("save state: %v", err)
	}

	got, err := proxy.LoadState()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if got == nil || got.PID != want.PID || got.ServerAddr != want.ServerAddr {
		t.Fatalf("unexpected state: %+v", got)
	}
	if !got.Alive() {
		t.Fatal("expected own pid to be alive")
	}

	if err := proxy.ClearState(); err != nil {
		t.Fatalf("clear state: %v", err)
	}
	if s, err := proxy.LoadState(); err != nil || s != nil {
		t.Fatalf("expected cleared state, got %+v, %v", s, err)
	}
	if err := proxy.ClearState(); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestAliveOnDeadState(t *testing.T) {
	var s *proxy.State
	if s.Alive() {
		t.Fatal("nil state must not be alive")
	}
	if (&proxy.State{PID: 0}).Alive() {
		t.Fatal("zero pid must not be alive")
	}
}

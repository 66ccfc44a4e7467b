package logger_test

import (
	"testing"

	"github.com/replete-lang/replete/internal/logger"
)

func TestDeferLogCollectsInOrder(t *testing.T) {
	log := logger.NewDeferLog()
	log.AddMsg(logger.Msg{Kind: logger.Warning, Text: "cache miss for scope s1"})
	log.AddMsg(logger.Msg{Kind: logger.Error, Text: "padawan exited unexpectedly"})

	if !log.HasErrors() {
		t.Fatal("expected HasErrors to report true once an Error msg was added")
	}

	msgs := log.Done()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// Errors sort before warnings.
	if msgs[0].Kind != logger.Error || msgs[1].Kind != logger.Warning {
		t.Fatalf("expected errors sorted before warnings, got %+v", msgs)
	}
}

func TestMsgStringWithoutColor(t *testing.T) {
	msg := logger.Msg{Kind: logger.Info, Text: "listening on :8787"}
	got := msg.String(logger.TerminalInfo{})
	want := "info: listening on :8787\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

package cmdl_test

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/replete-lang/replete/internal/cmdl"
)

// echoScript connects to the padawan's loopback port, reads one framed
// command, and replies with a fixed evaluation report echoing the id --
// standing in for a real runtime's CMDL harness for the purposes of
// exercising the transport, not the evaluation semantics.
const echoScript = `
exec 3<>/dev/tcp/127.0.0.1/%s
read -r line <&3
id=$(echo "$line" | sed -E 's/.*"id":"([^"]*)".*/\1/')
printf '{"id":"%%s","evaluation":"42"}\n' "$id" >&3
`

func spawnEcho(addr string) *exec.Cmd {
	_, port, _ := strings.Cut(addr, ":")
	return exec.Command("bash", "-c", fmt.Sprintf(echoScript, port))
}

func TestPadawanEvaluateRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := cmdl.Start(ctx, spawnEcho)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	evalCtx, evalCancel := context.WithTimeout(ctx, 5*time.Second)
	defer evalCancel()

	report, err := p.Evaluate(evalCtx, cmdl.Command{ID: "1", Script: "1+1", Wait: false})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Evaluation != "42" || report.Exception != "" {
		t.Fatalf("got %+v, want evaluation 42", report)
	}
}

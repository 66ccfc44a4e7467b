// Package cmdl implements the command-line half of C6, the padawan
// transport: an isolated evaluation context reached over a loopback TCP
// socket to a spawned child process, framed as one JSON object per line.
// Grounded on samthor-nodejs-holder/lib/runner.go's correlation-table
// (sequence id -> buffered reply channel) and reader-goroutine shape,
// adapted from a pipe-pair transport to the TCP accept-first-connection
// transport spec.md 4.6 specifies, and on cmd/esbuild/service.go's
// exit-triggers-respawn supervision loop.
package cmdl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sync"
)

// Command is one evaluation request sent to a padawan, per spec.md 4.6.
type Command struct {
	ID      string   `json:"id"`
	Script  string   `json:"script"`
	Imports []string `json:"imports"`
	Wait    bool     `json:"wait"`
}

// Report is a padawan's reply: exactly one of Evaluation or Exception is
// set, mirroring the wire shape's success/failure union.
type Report struct {
	ID         string `json:"id"`
	Evaluation string `json:"evaluation,omitempty"`
	Exception  string `json:"exception,omitempty"`
}

// Spawn builds the argv/env for a new child process, given the loopback
// address it should connect back to. The coordinator supplies this so cmdl
// stays agnostic of the actual runtime (node, deno, bun, ...) being driven.
type Spawn func(connectAddr string) *exec.Cmd

// died is the fixed exception text spec.md 4.6 names for reports settled
// after the child process exits.
const died = "CMDL died."

// Padawan is a running command-line padawan: one TCP listener reused across
// respawns, one child process at a time.
type Padawan struct {
	spawn Spawn

	mu       sync.Mutex
	ln       net.Listener
	conn     net.Conn
	enc      *json.Encoder
	waiters  map[string]chan Report
	stopped  bool
	restarts int
}

// Start opens the loopback listener, spawns the first child, and accepts
// its connection. The listener is reused across respawns so the caller's
// notion of "this padawan" survives a crash.
func Start(ctx context.Context, spawn Spawn) (*Padawan, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	p := &Padawan{
		spawn:   spawn,
		ln:      ln,
		waiters: make(map[string]chan Report),
	}
	if err := p.launch(ctx); err != nil {
		ln.Close()
		return nil, err
	}
	return p, nil
}

func (p *Padawan) Addr() string {
	return p.ln.Addr().String()
}

func (p *Padawan) launch(ctx context.Context) error {
	cmd := p.spawn(p.Addr())
	if err := cmd.Start(); err != nil {
		return err
	}

	conn, err := p.ln.Accept()
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.enc = json.NewEncoder(conn)
	p.mu.Unlock()

	go p.readLoop(conn)
	go p.superviseExit(ctx, cmd)
	return nil
}

func (p *Padawan) readLoop(conn net.Conn) {
	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		var report Report
		if err := json.Unmarshal(scan.Bytes(), &report); err != nil {
			continue
		}
		p.deliver(report)
	}
}

func (p *Padawan) superviseExit(ctx context.Context, cmd *exec.Cmd) {
	cmd.Wait()

	p.mu.Lock()
	stopped := p.stopped
	waiters := p.waiters
	p.waiters = make(map[string]chan Report)
	p.mu.Unlock()

	for id, ch := range waiters {
		ch <- Report{ID: id, Exception: died}
	}

	if stopped || ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.restarts++
	p.mu.Unlock()
	p.launch(ctx)
}

func (p *Padawan) deliver(report Report) {
	p.mu.Lock()
	ch, ok := p.waiters[report.ID]
	if ok {
		delete(p.waiters, report.ID)
	}
	p.mu.Unlock()
	if ok {
		ch <- report
	}
}

// Evaluate sends cmd to the padawan and blocks for its report, or returns
// ctx's error if it's cancelled first.
func (p *Padawan) Evaluate(ctx context.Context, cmd Command) (Report, error) {
	ch := make(chan Report, 1)

	p.mu.Lock()
	if p.enc == nil {
		p.mu.Unlock()
		return Report{}, fmt.Errorf("cmdl: padawan not connected")
	}
	p.waiters[cmd.ID] = ch
	err := p.enc.Encode(cmd)
	p.mu.Unlock()

	if err != nil {
		return Report{}, err
	}

	select {
	case report := <-ch:
		return report, nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Stop shuts the padawan down: closes the listener and current connection
// and suppresses respawn on the resulting exit.
func (p *Padawan) Stop() error {
	p.mu.Lock()
	p.stopped = true
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return p.ln.Close()
}

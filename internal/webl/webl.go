// Package webl implements the browser half of C6, the padawan transport:
// an HTTP+WebSocket bridge exposing the same command/report protocol as
// internal/cmdl, but framed as WebSocket text messages instead of a raw
// TCP socket, and connected to by a page the coordinator serves rather
// than a spawned process. Grounded on
// other_examples/esm-dev-esm.sh__dev_server.go's ServeHmrWS handler
// (upgrade, per-connection registry under a lock, read loop until the
// connection errors out) -- adapted from a fan-out file-watch registry to
// a single request/reply correlation table, the way internal/cmdl adapts
// samthor-nodejs-holder's pipe transport to a TCP one.
package webl

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("webl: padawan not connected")

// Command and Report mirror internal/cmdl's wire shapes; the padawan
// protocol (spec.md 4.6) is identical across both transports.
type Command struct {
	ID      string   `json:"id"`
	Script  string   `json:"script"`
	Imports []string `json:"imports"`
	Wait    bool     `json:"wait"`
}

type Report struct {
	ID         string `json:"id"`
	Evaluation string `json:"evaluation,omitempty"`
	Exception  string `json:"exception,omitempty"`
}

const died = "CMDL died."

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// A padawan iframe/popup/worker is commonly served with a null or
	// data: origin; the bridge trusts the shared secret in the connect URL
	// rather than the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Padawan is one browser evaluation context: a bootstrap secret it was
// handed, and (once the page connects) a live WebSocket.
type Padawan struct {
	secret string

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[string]chan Report
	closed  bool
}

// Bridge is the C6 browser-transport server: one HTTP handler serving
// every padawan's WebSocket upgrade, dispatching by the request's "secret"
// query parameter.
type Bridge struct {
	mu       sync.RWMutex
	padawans map[string]*Padawan
}

func NewBridge() *Bridge {
	return &Bridge{padawans: make(map[string]*Padawan)}
}

// NewPadawan registers a fresh padawan under a random secret and returns
// it; the caller embeds Padawan.Secret() into the creation script it hands
// the browser (spec.md 4.6: "a generated creation script ... postMessage
// with a shared secret").
func (b *Bridge) NewPadawan() (*Padawan, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	p := &Padawan{
		secret:  hex.EncodeToString(buf),
		waiters: make(map[string]chan Report),
	}
	b.mu.Lock()
	b.padawans[p.secret] = p
	b.mu.Unlock()
	return p, nil
}

func (p *Padawan) Secret() string { return p.secret }

// ServeHTTP upgrades a request whose "secret" query parameter names a
// registered padawan and
// hands the connection to that padawan; anything else is a 404, since an
// unrecognized secret means either a race with NewPadawan or a forged URL.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("secret")

	b.mu.RLock()
	p, ok := b.padawans[secret]
	b.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.readLoop(conn)
}

func (p *Padawan) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var report Report
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		p.deliver(report)
	}
	p.disconnect()
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

// disconnect settles every pending report the same way internal/cmdl's
// supervisor does on child-process exit. The browser variant has no
// process to respawn; the padawan stays registered under its secret, and
// Evaluate fails with errNotConnected until a new WebSocket carrying that
// secret re-attaches through Bridge.ServeHTTP.
func (p *Padawan) disconnect() {
	p.mu.Lock()
	p.conn = nil
	waiters := p.waiters
	p.waiters = make(map[string]chan Report)
	p.mu.Unlock()

	for id, ch := range waiters {
		ch <- Report{ID: id, Exception: died}
	}
}

func (p *Padawan) Evaluate(ctx context.Context, cmd Command) (Report, error) {
	ch := make(chan Report, 1)

	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return Report{}, errNotConnected
	}
	p.waiters[cmd.ID] = ch
	err := conn.WriteJSON(cmd)
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

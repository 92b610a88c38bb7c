// Package wsocket implements the engine's WebSocket handler (§4.K):
// one connection per element carrying a socket attribute, dispatching
// inbound messages into the document updater and tearing the
// connection down once its owning element leaves the tree. There is no
// MutationObserver headless, so detachment is discovered by a periodic
// sweep checking ancestry back to the document root — the same
// poll-for-liveness shape as the teacher's SSE session manager's
// cleanupLoop, applied to DOM liveness instead of session TTL.
package wsocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/logging"
	"github.com/monstercameron/htmlex-go/scheduler"
	"github.com/monstercameron/htmlex-go/target"
)

// DetachSweepInterval is how often a Connection checks whether its
// owning element is still reachable from the document root.
const DetachSweepInterval = 2 * time.Second

// Dialer abstracts gorilla/websocket's dial call so tests can substitute
// a fake without opening a real socket.
type Dialer interface {
	Dial(url string, header map[string][]string) (Conn, error)
}

// Conn is the minimal surface wsocket needs from a live connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// gorillaDialer adapts *websocket.Dialer to Dialer.
type gorillaDialer struct{}

func (gorillaDialer) Dial(url string, header map[string][]string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DefaultDialer is the production Dialer, backed by gorilla/websocket.
var DefaultDialer Dialer = gorillaDialer{}

// Connection owns one socket-bound element's WebSocket lifecycle.
type Connection struct {
	conn   Conn
	doc    *domupdate.Document
	el     *html.Node
	target []target.Instruction

	sequential bool
	seqQueue   *scheduler.SequentialQueue

	log *logging.Logger

	cancel context.CancelFunc
}

// Connect dials url and starts the connection's read loop and detach
// sweep. instrs is the element's own target (nil falls back to
// innerHTML on the element itself, matching the DOM updater's target
// resolution). If sequential is true, updates are enqueued on seqQueue
// instead of applied immediately.
func Connect(dialer Dialer, url string, doc *domupdate.Document, el *html.Node, instrs []target.Instruction, sequential bool, seqQueue *scheduler.SequentialQueue, debug bool) (*Connection, error) {
	conn, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:       conn,
		doc:        doc,
		el:         el,
		target:     instrs,
		sequential: sequential,
		seqQueue:   seqQueue,
		log:        logging.Element(elementDebugID(el), debug),
		cancel:     cancel,
	}

	go c.readLoop()
	go c.detachSweep(ctx)

	return c, nil
}

func elementDebugID(el *html.Node) string {
	if v, ok := domupdate.Attr(el, "id"); ok {
		return v
	}
	return el.Data
}

func (c *Connection) readLoop() {
	defer c.Close()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Warnf("socket closed: %v", err)
			return
		}
		c.dispatch(string(payload))
	}
}

func (c *Connection) dispatch(payload string) {
	instrs := c.target
	if len(instrs) == 0 {
		instrs = []target.Instruction{{Selector: target.ThisSelector, Strategy: target.StrategyInnerHTML}}
	}

	apply := func() {
		if err := c.doc.Apply(instrs, c.el, payload); err != nil {
			c.log.Errorf("apply inbound message: %v", err)
		}
	}

	if c.sequential && c.seqQueue != nil {
		done := make(chan struct{})
		c.seqQueue.Enqueue(func() <-chan struct{} { close(done); return done })
		c.seqQueue.EnqueueUpdate(apply)
		return
	}
	apply()
}

// detachSweep periodically checks whether el is still reachable from
// the document root and closes the connection once it is not.
func (c *Connection) detachSweep(ctx context.Context) {
	t := time.NewTicker(DetachSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !IsAttached(c.doc.Root(), c.el) {
				c.log.Infof("owning element detached, closing socket")
				c.Close()
				return
			}
		}
	}
}

// IsAttached reports whether node is reachable from root by walking up
// node's parent chain until root or nil is found.
func IsAttached(root, node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	c.cancel()
	return c.conn.Close()
}

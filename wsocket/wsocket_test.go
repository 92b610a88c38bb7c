package wsocket

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/target"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []string
	idx      int
	closed   bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.idx >= len(f.messages) {
		return 0, nil, errors.New("eof")
	}
	m := f.messages[f.idx]
	f.idx++
	return 1, []byte(m), nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDialer struct {
	conn *fakeConn
}

func (d fakeDialer) Dial(url string, header map[string][]string) (Conn, error) {
	return d.conn, nil
}

func parseDoc(t *testing.T, src string) *domupdate.Document {
	t.Helper()
	doc, err := domupdate.ParseDocument(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestConnectDispatchesInboundMessageToTarget(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="out"></div></body></html>`)
	fc := &fakeConn{messages: []string{"hello"}}

	instr := []target.Instruction{{Selector: "#out", Strategy: target.StrategyInnerHTML}}
	conn, err := Connect(fakeDialer{conn: fc}, "ws://example/socket", doc, &html.Node{}, instr, false, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		out, _ := doc.Render()
		if strings.Contains(out, "hello") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected inbound message to be applied to #out")
}

func TestIsAttachedDetectsDetachment(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="box"></div></body></html>`)
	sel, err := doc.Query("#box")
	if err != nil {
		t.Fatal(err)
	}
	node := sel.Nodes[0]

	if !IsAttached(doc.Root(), node) {
		t.Error("expected node to be attached before removal")
	}

	node.Parent.RemoveChild(node)

	if IsAttached(doc.Root(), node) {
		t.Error("expected node to be detected as detached after removal")
	}
}

func TestReadLoopClosesConnectionOnError(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="out"></div></body></html>`)
	fc := &fakeConn{} // no messages, ReadMessage errors immediately

	conn, err := Connect(fakeDialer{conn: fc}, "ws://example/socket", doc, &html.Node{}, nil, false, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fc.mu.Lock()
		closed := fc.closed
		fc.mu.Unlock()
		if closed {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected connection to close after a read error")
}

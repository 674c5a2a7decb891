package mcu

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// pipePort is the host end of an in-memory link
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) Flush() error                { return nil }
func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

// fakeBoard answers like the firmware: "ok" for g-code, "error: ..." for
// lines starting with BAD, a status report for '?' and an alarm message
// before the reply for lines starting with ALARM
type fakeBoard struct {
	in  *io.PipeReader
	out *io.PipeWriter

	mu       sync.Mutex
	lines    []string
	realtime []byte
}

func newLink(t *testing.T) (*MCU, *fakeBoard) {
	t.Helper()
	hostIn, boardOut := io.Pipe()
	boardIn, hostOut := io.Pipe()
	board := &fakeBoard{in: boardIn, out: boardOut}
	go board.run()

	m := NewMCU()
	m.Timeout = time.Second
	m.Attach(&pipePort{r: hostIn, w: hostOut})
	t.Cleanup(func() {
		m.Close()
		boardIn.Close()
		boardOut.Close()
	})
	return m, board
}

func (b *fakeBoard) run() {
	rd := bufio.NewReader(b.in)
	var line []byte
	for {
		c, err := rd.ReadByte()
		if err != nil {
			return
		}
		switch c {
		case '?':
			io.WriteString(b.out, "<Idle|MPos:0.000,0.000,0.000|Bf:20,5|FS:0,0|Ov:100,100,100>\n")
			continue
		case '!', '~', 0x18:
			b.mu.Lock()
			b.realtime = append(b.realtime, c)
			b.mu.Unlock()
			continue
		case '\n':
		default:
			line = append(line, c)
			continue
		}

		s := string(line)
		line = line[:0]
		b.mu.Lock()
		b.lines = append(b.lines, s)
		b.mu.Unlock()
		switch {
		case strings.HasPrefix(s, "BAD"):
			io.WriteString(b.out, "error: gcode: unsupported command: G99\n")
		case strings.HasPrefix(s, "ALARM"):
			io.WriteString(b.out, "ALARM: hard limit\nok\n")
		case strings.HasPrefix(s, "SILENT"):
		default:
			io.WriteString(b.out, "ok\n")
		}
	}
}

func (b *fakeBoard) received() ([]string, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...), append([]byte(nil), b.realtime...)
}

func TestSendLine(t *testing.T) {
	m, board := newLink(t)

	if err := m.SendLine("  G1 X10 F100  "); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	err := m.SendLine("BAD G99")
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("Expected a LineError, got %v", err)
	}
	if lineErr.Line != "BAD G99" || lineErr.Message != "gcode: unsupported command: G99" {
		t.Errorf("Expected the board message, got %+v", lineErr)
	}

	lines, _ := board.received()
	if len(lines) != 2 || lines[0] != "G1 X10 F100" {
		t.Errorf("Expected trimmed lines, got %q", lines)
	}
}

func TestUnsolicitedMessages(t *testing.T) {
	m, _ := newLink(t)
	got := make(chan string, 1)
	m.OnMessage = func(s string) { got <- s }

	if err := m.SendLine("ALARM test"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	select {
	case s := <-got:
		if s != "ALARM: hard limit" {
			t.Errorf("Expected the alarm message, got %q", s)
		}
	case <-time.After(time.Second):
		t.Error("Expected the alarm to reach OnMessage")
	}
}

func TestStream(t *testing.T) {
	m, board := newLink(t)

	program := []string{"G21", "", "; comment", "(setup)", "G0 X1", "G1 Y2 F100"}
	var acked []int
	if err := m.Stream(program, func(n int, line string) { acked = append(acked, n) }); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(acked) != 3 || acked[0] != 1 || acked[2] != 6 {
		t.Errorf("Expected lines 1,5,6 acknowledged, got %v", acked)
	}

	lines, _ := board.received()
	if len(lines) != 3 {
		t.Errorf("Expected blanks and comments skipped, got %q", lines)
	}

	if err := m.Stream([]string{"G0 X0", "BAD", "G0 X1"}, nil); err == nil {
		t.Error("Expected the stream to stop at the error")
	}
	lines, _ = board.received()
	if len(lines) != 5 {
		t.Errorf("Expected no line sent after the error, got %q", lines)
	}
}

func TestRealtimeAndStatus(t *testing.T) {
	m, board := newLink(t)

	if err := m.Realtime('!'); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	s, err := m.QueryStatus(time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.HasPrefix(s, "<Idle|") {
		t.Errorf("Expected a status report, got %q", s)
	}

	// the status query is answered after the hold byte, so both arrived
	_, rt := board.received()
	if len(rt) != 1 || rt[0] != '!' {
		t.Errorf("Expected the hold byte, got %v", rt)
	}
}

func TestTimeout(t *testing.T) {
	m, _ := newLink(t)
	m.Timeout = 50 * time.Millisecond

	if err := m.SendLine("SILENT"); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestConnectionClosed(t *testing.T) {
	m, board := newLink(t)
	board.out.Close()

	if err := m.SendLine("G0 X1"); err == nil {
		t.Fatal("Expected an error after the board went away")
	}
	if m.IsConnected() {
		t.Error("Expected the link marked disconnected")
	}
	if err := m.SendLine("G0 X1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := m.Realtime('?'); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected for realtime bytes, got %v", err)
	}
}

func TestNotConnected(t *testing.T) {
	m := NewMCU()
	if err := m.SendLine("G0"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Expected closing an unattached MCU to succeed, got %v", err)
	}
}

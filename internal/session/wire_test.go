package session

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/qail-lang/pipebench/internal/logging"
	"github.com/qail-lang/pipebench/internal/params"
	"github.com/qail-lang/pipebench/internal/pgtest"
	"github.com/qail-lang/pipebench/internal/pipeline"
)

func newWireConn(t *testing.T, srv *pgtest.Server, flushEvery int) *WireConn {
	t.Helper()

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeMessages(server)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return NewWireConn(client, "stmt1", flushEvery)
}

func TestWireConnDrainsBatch(t *testing.T) {
	srv := pgtest.New()
	conn := newWireConn(t, srv, 0)

	buf, err := params.New(10)
	if err != nil {
		t.Fatal(err)
	}
	d := pipeline.New(conn, buf, logging.Discard())

	res, err := d.RunBatch(0)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.Reads != 21 {
		t.Errorf("expected 21 reads, got %d", res.Reads)
	}
	if res.Tuples != 10 {
		t.Errorf("expected 10 tuples, got %d", res.Tuples)
	}

	executed := srv.Executed()
	if len(executed) != 10 {
		t.Fatalf("expected 10 executions, got %d", len(executed))
	}
	for i, p := range executed {
		if want := strconv.Itoa(i + 1); p != want {
			t.Errorf("execution %d: param %q, want %q", i, p, want)
		}
	}
	if srv.Syncs() != 1 {
		t.Errorf("expected 1 sync, got %d", srv.Syncs())
	}
	if err := conn.exit(); err != nil {
		t.Errorf("exit after full drain: %v", err)
	}
}

func TestWireConnAbortsAfterError(t *testing.T) {
	srv := pgtest.New()
	srv.Fail = func(p string) bool { return p == "4" }
	conn := newWireConn(t, srv, 0)

	for _, p := range []string{"1", "4", "2"} {
		if err := conn.Send([]byte(p)); err != nil {
			t.Fatalf("Send(%s): %v", p, err)
		}
	}
	if err := conn.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var got []pipeline.Reply
	for i := 0; i < 7; i++ {
		r, err := conn.Read()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		got = append(got, r)
	}

	wantKinds := []pipeline.Kind{
		pipeline.KindTuples, pipeline.KindEnd,
		pipeline.KindError, pipeline.KindEnd,
		pipeline.KindError, pipeline.KindEnd,
		pipeline.KindSync,
	}
	for i, want := range wantKinds {
		if got[i].Kind != want {
			t.Errorf("read %d: kind %s, want %s", i, got[i].Kind, want)
		}
	}

	var pgErr *pgconn.PgError
	if !errors.As(got[2].Err, &pgErr) || pgErr.Code != "22023" {
		t.Errorf("expected server error 22023, got %v", got[2].Err)
	}
	if !errors.Is(got[4].Err, pipeline.ErrAborted) {
		t.Errorf("expected aborted reply, got %v", got[4].Err)
	}
	if len(srv.Executed()) != 2 {
		t.Errorf("backend should skip to the sync after an error, executed %v", srv.Executed())
	}

	// Past the sync there is nothing left: the null result.
	if r, err := conn.Read(); err != nil || r.Kind != pipeline.KindEnd {
		t.Errorf("expected end after sync, got %v, %v", r, err)
	}
}

func TestWireConnRecoversAfterSync(t *testing.T) {
	srv := pgtest.New()
	failed := false
	srv.Fail = func(p string) bool {
		if p == "3" && !failed {
			failed = true
			return true
		}
		return false
	}
	conn := newWireConn(t, srv, 0)

	buf, err := params.New(10)
	if err != nil {
		t.Fatal(err)
	}
	d := pipeline.New(conn, buf, logging.Discard())

	first, err := d.RunBatch(0)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if first.Tuples != 2 || first.Errors != 8 || first.Reads != 21 {
		t.Errorf("first batch: %+v", first)
	}

	second, err := d.RunBatch(1)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if second.Tuples != 10 || second.Errors != 0 {
		t.Errorf("second batch: %+v", second)
	}
}

func TestWireConnExitWithOutstanding(t *testing.T) {
	srv := pgtest.New()
	conn := newWireConn(t, srv, 2)

	for i := 0; i < 3; i++ {
		if err := conn.Send([]byte("1")); err != nil {
			t.Fatal(err)
		}
	}
	if conn.Outstanding() != 3 {
		t.Errorf("expected 3 outstanding, got %d", conn.Outstanding())
	}
	if err := conn.exit(); err == nil {
		t.Fatal("exit should fail with requests outstanding")
	}

	if err := conn.Sync(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if _, err := conn.Read(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if err := conn.exit(); err != nil {
		t.Errorf("exit after drain: %v", err)
	}
}

func TestWireConnLargeBatch(t *testing.T) {
	srv := pgtest.New()
	conn := newWireConn(t, srv, 0)

	buf, err := params.New(5000)
	if err != nil {
		t.Fatal(err)
	}
	res, err := pipeline.New(conn, buf, logging.Discard()).RunBatch(0)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.Reads != 10_001 || res.Tuples != 5000 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestReadAheadReportsUnexpectedEOF(t *testing.T) {
	ra := newReadAhead(strings.NewReader("abc"))

	p := make([]byte, 8)
	n, err := io.ReadAtLeast(ra, p, 3)
	if err != nil || string(p[:n]) != "abc" {
		t.Fatalf("got %q, %v", p[:n], err)
	}
	if _, err := ra.Read(p); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected unexpected EOF, got %v", err)
	}
}

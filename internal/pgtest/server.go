// Package pgtest is a minimal in-process PostgreSQL backend for tests. It
// speaks enough of the protocol for startup (trust auth), Parse/Describe
// preparation and pipelined Bind/Describe/Execute/Sync.
package pgtest

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
)

const int8OID = 20

// Server accepts connections on a loopback listener.
type Server struct {
	// Fail, when set, makes Execute fail for matching parameters. The backend
	// then skips to the next Sync like a real server.
	Fail func(param string) bool
	// ParamOIDs is what Describe of a statement reports. Defaults to one int8.
	ParamOIDs []uint32

	ln    net.Listener
	wg    sync.WaitGroup
	conns []net.Conn

	mu       sync.Mutex
	executed []string
	syncs    int
	prepared map[string]string
	apps     []string
}

// NewServer listens on 127.0.0.1 and serves until the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pgtest: listen: %v", err)
	}
	s := New()
	s.ln = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Serve(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s
}

// New returns a server without a listener, for use with Serve or
// ServeMessages on an existing connection.
func New() *Server {
	return &Server{
		ParamOIDs: []uint32{int8OID},
		prepared:  make(map[string]string),
	}
}

// Host and Port of the listener.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() string {
	return strconv.Itoa(s.ln.Addr().(*net.TCPAddr).Port)
}

// Executed returns the parameter of every executed request in order.
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Syncs is the number of Sync messages answered.
func (s *Server) Syncs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}

// Prepared returns the SQL of a prepared statement.
func (s *Server) Prepared(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sql, ok := s.prepared[name]
	return sql, ok
}

// ApplicationNames lists the application_name of every startup seen.
func (s *Server) ApplicationNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.apps...)
}

// Serve runs the startup handshake and then the message loop. It closes conn
// when the client terminates or disconnects.
func (s *Server) Serve(conn net.Conn) {
	defer conn.Close()
	be := pgproto3.NewBackend(conn, conn)

	for {
		msg, err := be.ReceiveStartupMessage()
		if err != nil {
			return
		}
		if startup, ok := msg.(*pgproto3.StartupMessage); ok {
			s.mu.Lock()
			s.apps = append(s.apps, startup.Parameters["application_name"])
			s.mu.Unlock()
			break
		}
		// SSL and GSS encryption requests are declined.
		if _, err := conn.Write([]byte{'N'}); err != nil {
			return
		}
	}

	be.Send(&pgproto3.AuthenticationOk{})
	be.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.4"})
	be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	if err := be.Flush(); err != nil {
		return
	}

	s.loop(be)
}

// ServeMessages runs the message loop on a connection that is already past
// startup, as a hijacked client connection is.
func (s *Server) ServeMessages(conn net.Conn) {
	defer conn.Close()
	s.loop(pgproto3.NewBackend(conn, conn))
}

var rowDescription = &pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{
	{Name: []byte("id"), DataTypeOID: int8OID, DataTypeSize: 8, TypeModifier: -1},
	{Name: []byte("name"), DataTypeOID: 25, DataTypeSize: -1, TypeModifier: -1},
}}

func (s *Server) loop(be *pgproto3.Backend) {
	var (
		param    string
		skipping bool
	)

	for {
		msg, err := be.Receive()
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Parse:
			if skipping {
				continue
			}
			if strings.Contains(strings.ToUpper(msg.Query), "SYNTAX") {
				be.Send(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "42601", Message: "syntax error"})
				skipping = true
				continue
			}
			s.mu.Lock()
			s.prepared[msg.Name] = msg.Query
			s.mu.Unlock()
			be.Send(&pgproto3.ParseComplete{})

		case *pgproto3.Describe:
			if skipping {
				continue
			}
			if msg.ObjectType == 'S' {
				be.Send(&pgproto3.ParameterDescription{ParameterOIDs: s.ParamOIDs})
			}
			be.Send(rowDescription)

		case *pgproto3.Bind:
			if skipping {
				continue
			}
			param = ""
			if len(msg.Parameters) > 0 {
				param = string(msg.Parameters[0])
			}
			be.Send(&pgproto3.BindComplete{})

		case *pgproto3.Execute:
			if skipping {
				continue
			}
			s.mu.Lock()
			s.executed = append(s.executed, param)
			s.mu.Unlock()

			if s.Fail != nil && s.Fail(param) {
				be.Send(&pgproto3.ErrorResponse{Severity: "ERROR", Code: "22023", Message: "rejected " + param})
				skipping = true
				continue
			}
			rows, _ := strconv.Atoi(param)
			for i := 0; i < rows; i++ {
				be.Send(&pgproto3.DataRow{Values: [][]byte{
					[]byte(strconv.Itoa(i + 1)),
					[]byte(fmt.Sprintf("harbor-%d", i+1)),
				}})
			}
			be.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT " + strconv.Itoa(rows))})

		case *pgproto3.Sync:
			skipping = false
			s.mu.Lock()
			s.syncs++
			s.mu.Unlock()
			be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			if err := be.Flush(); err != nil {
				return
			}

		case *pgproto3.Flush:
			if err := be.Flush(); err != nil {
				return
			}

		case *pgproto3.Terminate:
			return
		}
	}
}

package librsocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rsockets2/rsockets2/internal/frame"
	"github.com/rsockets2/rsockets2/internal/interaction"
	"github.com/rsockets2/rsockets2/internal/multiplex"
	"github.com/rsockets2/rsockets2/internal/transport"
	"github.com/rsockets2/rsockets2/librsocket/extension"

	log "github.com/sirupsen/logrus"
)

// Server accepts RSocket connections over TCP with Serve and over WebSocket
// as an http.Handler. Each connection gets its own dispatcher running
// Responder.
type Server struct {
	Responder Responder
	// Config is the template for every accepted connection. Its Role is
	// always set to server and keepalive parameters are taken from the
	// client's SETUP.
	Config   multiplex.Config
	Workers  int64
	Upgrader websocket.Upgrader
	// RxRate and TxRate cap the bytes per second of each connection. Zero
	// means unlimited
	RxRate int64
	TxRate int64
	// Credentials, when set, requires every SETUP to carry simple
	// authentication in composite metadata
	Credentials extension.Credentials

	sessionsM sync.RWMutex
	sessions  map[string]*session
}

type session struct {
	id         string
	remoteAddr string
	transport  string
	user       string
	opened     time.Time
	conn       *multiplex.Connection
}

// Serve accepts TCP connections on l until ctx is canceled. Temporary accept
// failures are retried with a growing pause.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	waitDur := [10]time.Duration{
		50 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second,
		3 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	fails := 0
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("%v, retrying", err)
			time.Sleep(waitDur[fails])
			if fails < 9 {
				fails++
			}
			continue
		}
		fails = 0
		go s.handle(ctx, transport.NewTCPConn(conn), conn.RemoteAddr().String(), "tcp")
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it until the
// connection ends
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t, err := transport.Upgrade(&s.Upgrader, w, r)
	if err != nil {
		log.WithField("remoteAddr", r.RemoteAddr).Warnf("websocket upgrade failed: %v", err)
		return
	}
	s.handle(r.Context(), t, r.RemoteAddr, "websocket")
}

func (s *Server) handle(ctx context.Context, t transport.Transport, remoteAddr, kind string) {
	config := s.Config
	config.Role = multiplex.RoleServer
	config.Resume = multiplex.ResumeConfig{}
	config.Valve = multiplex.UnlimitedValve()
	if s.RxRate > 0 {
		config.Valve.SetRxRate(s.RxRate)
	}
	if s.TxRate > 0 {
		config.Valve.SetTxRate(s.TxRate)
	}
	var user string
	if s.Credentials != nil {
		config.AcceptSetup = func(setup *frame.Setup) (err error) {
			user, err = s.Credentials.Authenticate(setup.Metadata)
			return err
		}
	}
	conn := multiplex.NewConnection(t, config)
	if err := conn.Open(ctx); err != nil {
		log.WithField("remoteAddr", remoteAddr).Infof("rejected connection: %v", err)
		return
	}

	sesh := &session{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		transport:  kind,
		user:       user,
		opened:     time.Now(),
		conn:       conn,
	}
	s.addSession(sesh)
	defer s.delSession(sesh.id)
	log.WithField("remoteAddr", remoteAddr).Infof("session %v opened over %v", sesh.id, kind)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	err := interaction.NewDispatcher(conn, s.Responder, s.Workers).Serve(context.Background())
	_ = conn.Close()
	log.WithField("remoteAddr", remoteAddr).Infof("session %v closed: %v", sesh.id, err)
}

func (s *Server) addSession(sesh *session) {
	s.sessionsM.Lock()
	defer s.sessionsM.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	s.sessions[sesh.id] = sesh
}

func (s *Server) delSession(id string) {
	s.sessionsM.Lock()
	defer s.sessionsM.Unlock()
	delete(s.sessions, id)
}

func (s *Server) getSession(id string) (*session, bool) {
	s.sessionsM.RLock()
	defer s.sessionsM.RUnlock()
	sesh, ok := s.sessions[id]
	return sesh, ok
}

// SessionCount is the number of open connections
func (s *Server) SessionCount() int {
	s.sessionsM.RLock()
	defer s.sessionsM.RUnlock()
	return len(s.sessions)
}

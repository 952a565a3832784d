package msgnet

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

// Default server configuration values.
const (
	defaultPollInterval = 15 * time.Millisecond
	defaultStartTimeout = 10 * 250 * time.Millisecond
)

// Handler event names, used in logs and metrics.
const (
	eventConnected    = "connected"
	eventDisconnected = "disconnected"
	eventMessage      = "message"
)

// ServerState is the lifecycle state of a Server.
type ServerState int32

const (
	ServerStopped ServerState = iota
	ServerStarting
	ServerRunning
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "stopped"
	case ServerStarting:
		return "starting"
	case ServerRunning:
		return "running"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// ClientConnection is a connection accepted by a Server.
// It embeds the Transceiver that owns the accepted socket.
type ClientConnection struct {
	*Transceiver

	id     uint64
	remote net.Addr
}

// ID returns the connection id, unique and increasing per Server.
func (c *ClientConnection) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer address recorded at accept time.
func (c *ClientConnection) RemoteAddr() net.Addr {
	return c.remote
}

func (c *ClientConnection) String() string {
	return fmt.Sprintf("ClientConnection[id=%d remote=%v dead=%t]", c.id, c.remote, c.IsDead())
}

// Server accepts TCP connections, wraps each in a Transceiver, and
// supervises them from two loops: the accept loop tracks new connections;
// the poll loop periodically drops dead ones and hands queued messages to
// the Handler.
type Server struct {
	registry     *Registry
	handler      Handler
	logger       Logger
	metrics      *Metrics
	host         string
	maxConns     int
	startTimeout time.Duration
	pollInterval atomic.Int64
	connOpts     []Option

	nextID atomic.Uint64

	mu    sync.Mutex
	state ServerState
	run   *serverRun
	group *errgroup.Group
}

// serverRun is the state of one Start..Stop cycle.
type serverRun struct {
	listener net.Listener
	cancel   context.CancelFunc
	conns    *connSet
	stopOnce sync.Once
}

func (r *serverRun) stop() {
	r.stopOnce.Do(func() {
		_ = r.listener.Close()
		r.cancel()
	})
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// PollIntervalOption sets the poll loop interval. Default is 15ms.
func PollIntervalOption(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval.Store(int64(d))
		}
	}
}

// StartTimeoutOption bounds how long Start waits for both loops to run.
// Default is 2.5s.
func StartTimeoutOption(d time.Duration) ServerOption {
	return func(s *Server) {
		s.startTimeout = d
	}
}

// ServerHostOption sets the interface the server binds to.
// Default is all interfaces.
func ServerHostOption(host string) ServerOption {
	return func(s *Server) {
		s.host = host
	}
}

// MaxConnectionsOption limits the number of simultaneously accepted sockets.
// Further clients wait in the kernel backlog until a slot frees up.
func MaxConnectionsOption(n int) ServerOption {
	return func(s *Server) {
		s.maxConns = n
	}
}

// ConnOptions sets the options applied to every accepted connection.
func ConnOptions(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// ServerMetricsOption enables Prometheus instrumentation.
func ServerMetricsOption(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a stopped server. A nil handler discards all messages.
// Returns ErrNilRegistry if registry is nil.
func NewServer(registry *Registry, handler Handler, opts ...ServerOption) (*Server, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	s := &Server{
		registry:     registry,
		handler:      handler,
		logger:       defaultLogger(),
		startTimeout: defaultStartTimeout,
	}
	s.pollInterval.Store(int64(defaultPollInterval))

	for _, opt := range opts {
		opt(s)
	}

	if s.startTimeout <= 0 {
		s.startTimeout = defaultStartTimeout
	}

	return s, nil
}

// Start binds the listening socket on port and starts the accept and poll
// loops. It returns once both loops are running, or an error if binding
// fails or the loops do not report running within the start timeout.
// Port 0 picks a free port; see Addr.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.state != ServerStopped {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.state = ServerStarting
	s.mu.Unlock()

	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(ServerStopped)
		s.logger.Error("listen failed", "addr", addr, "error", err)
		return errors.Wrapf(err, "listen %s", addr)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	run := &serverRun{
		listener: ln,
		cancel:   cancel,
		conns:    newConnSet(),
	}

	s.mu.Lock()
	s.run = run
	s.group = group
	s.mu.Unlock()

	acceptReady := make(chan struct{})
	pollReady := make(chan struct{})
	connOpts := buildOptions(s.connOpts)

	group.Go(func() error {
		return s.acceptLoop(ctx, run, connOpts, acceptReady)
	})
	group.Go(func() error {
		return s.pollLoop(ctx, run, pollReady)
	})

	timer := time.NewTimer(s.startTimeout)
	defer timer.Stop()

	for _, ready := range []chan struct{}{acceptReady, pollReady} {
		select {
		case <-ready:
		case <-timer.C:
			s.logger.Error("server start timed out", "addr", ln.Addr(), "timeout", s.startTimeout)
			s.stopRun(run)
			return ErrStartTimeout
		}
	}

	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return errors.Wrap(ErrConnectionClosed, "server stopped during start")
	}
	s.state = ServerRunning
	s.mu.Unlock()

	s.logger.Info("server started", "addr", ln.Addr())
	return nil
}

// Stop closes the listening socket and cancels both loops. It does not wait
// for them to exit; use Wait for that. Safe to call multiple times.
func (s *Server) Stop() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return
	}
	s.logger.Info("stopping server", "addr", run.listener.Addr())
	s.stopRun(run)
}

// stopRun stops run and marks the server stopped if run is still current.
func (s *Server) stopRun(run *serverRun) {
	s.mu.Lock()
	if s.run == run {
		s.run = nil
		s.state = ServerStopped
	}
	s.mu.Unlock()

	run.stop()
}

// Wait blocks until the loops of the most recent Start have exited.
func (s *Server) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

// IsRunning reports whether the server is between a successful Start and Stop.
func (s *Server) IsRunning() bool {
	return s.State() == ServerRunning
}

// State returns the lifecycle state of the server.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(state ServerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return nil
	}
	return s.run.listener.Addr()
}

// SetPollInterval changes the poll loop interval. Takes effect on the next cycle.
func (s *Server) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval.Store(int64(d))
	}
}

// PollInterval returns the poll loop interval.
func (s *Server) PollInterval() time.Duration {
	return time.Duration(s.pollInterval.Load())
}

// Connections returns the tracked connections ordered by id.
func (s *Server) Connections() []*ClientConnection {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return nil
	}
	return run.conns.snapshot()
}

// acceptLoop tracks inbound sockets until the listener is closed.
func (s *Server) acceptLoop(ctx context.Context, run *serverRun, connOpts options, ready chan struct{}) error {
	close(ready)

	var tempDelay time.Duration
	for {
		raw, err := run.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("accept loop exited", "addr", run.listener.Addr())
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := time.Second; tempDelay > max {
					tempDelay = max
				}
				s.logger.Warn("accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}

			s.logger.Error("accept error", "error", err)
			s.stopRun(run)
			return errors.Wrap(err, "accept")
		}

		tempDelay = 0
		s.track(run, raw, connOpts)
	}
}

// track wraps raw in a ClientConnection and adds it to the active set.
func (s *Server) track(run *serverRun, raw net.Conn, connOpts options) {
	t := newTransceiver(s.registry, connOpts)
	cc := &ClientConnection{
		Transceiver: t,
		id:          s.nextID.Add(1),
		remote:      raw.RemoteAddr(),
	}

	if err := t.attach(raw); err != nil {
		_ = raw.Close()
		return
	}
	if !run.conns.add(cc) {
		// The poll loop already swept this run.
		t.Disconnect()
		return
	}

	s.metrics.connectionAccepted()
	s.logger.Info("accepted connection", "id", cc.id, "remote_addr", cc.remote)
	s.invoke(cc, eventConnected, func() { s.handler.OnClientConnected(cc) })
}

// pollLoop prunes dead connections and dispatches queued messages every
// poll interval. On cancellation it disconnects whatever is left.
func (s *Server) pollLoop(ctx context.Context, run *serverRun, ready chan struct{}) error {
	close(ready)

	timer := time.NewTimer(s.PollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll(run)
			s.logger.Debug("poll loop exited")
			return nil
		case <-timer.C:
			s.pruneDead(run)
			s.dispatch(run)
			timer.Reset(s.PollInterval())
		}
	}
}

func (s *Server) pruneDead(run *serverRun) {
	for _, cc := range run.conns.snapshot() {
		if !cc.IsDead() {
			continue
		}
		cc.Disconnect()
		run.conns.remove(cc.id)
		s.retire(cc)
	}
}

func (s *Server) dispatch(run *serverRun) {
	for _, cc := range run.conns.snapshot() {
		queue := cc.Received()
		if queue.Len() == 0 {
			continue
		}

		before := queue.removed()
		s.invoke(cc, eventMessage, func() { s.handler.OnClientMessage(cc, queue) })
		s.metrics.messagesDrained(int(queue.removed() - before))
	}
}

func (s *Server) closeAll(run *serverRun) {
	for _, cc := range run.conns.close() {
		cc.Disconnect()
		s.retire(cc)
	}
}

func (s *Server) retire(cc *ClientConnection) {
	s.metrics.connectionClosed()
	s.logger.Info("dropping dead connection", "id", cc.id, "remote_addr", cc.remote)
	s.invoke(cc, eventDisconnected, func() { s.handler.OnClientDisconnected(cc) })
}

// invoke runs one handler callback, isolating the loop from its panics.
func (s *Server) invoke(cc *ClientConnection, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.handlerPanic(event)
			s.logger.Error("handler panic", "event", event, "id", cc.id, "panic", r, "stack", string(debug.Stack()))
			if event != eventDisconnected {
				cc.Disconnect()
			}
		}
	}()

	fn()
}

// connSet is the set of connections tracked by one server run.
type connSet struct {
	mu     sync.Mutex
	conns  map[uint64]*ClientConnection
	closed bool
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[uint64]*ClientConnection)}
}

// add inserts cc. It returns false once the set has been closed.
func (cs *connSet) add(cc *ClientConnection) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return false
	}
	cs.conns[cc.id] = cc
	return true
}

func (cs *connSet) remove(id uint64) {
	cs.mu.Lock()
	delete(cs.conns, id)
	cs.mu.Unlock()
}

func (cs *connSet) snapshot() []*ClientConnection {
	cs.mu.Lock()
	list := make([]*ClientConnection, 0, len(cs.conns))
	for _, cc := range cs.conns {
		list = append(list, cc)
	}
	cs.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// close empties the set, refuses further inserts, and returns what it held.
func (cs *connSet) close() []*ClientConnection {
	cs.mu.Lock()
	cs.closed = true
	conns := cs.conns
	cs.conns = make(map[uint64]*ClientConnection)
	cs.mu.Unlock()

	list := make([]*ClientConnection, 0, len(conns))
	for _, cc := range conns {
		list = append(list, cc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	shutdownReason = "Server shutting down"
)

var ErrStreamerStopped = errors.New("streamer stopped")

const (
	MessageFeed         = "feed"
	MessageNotification = "notification"
)

// Message is the envelope written to stream clients.
type Message struct {
	Type         string               `json:"type"`
	Feed         *app.FeedState       `json:"feed,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type streamClient struct {
	writer *clientWriter
	quit   chan struct{}
}

type userClients map[*websocket.Conn]*streamClient

type streamerCmd interface{ isStreamerCmd() }

type baseStreamerCmd struct{}

func (baseStreamerCmd) isStreamerCmd() {}

type registerCmd struct {
	baseStreamerCmd
	userID       uuid.UUID
	connection   *websocket.Conn
	updates      <-chan app.FeedState
	notes        <-chan domain.Notification
	errorChannel chan error
}

type unregisterCmd struct {
	baseStreamerCmd
	userID     uuid.UUID
	connection *websocket.Conn
}

type clientCountCmd struct {
	baseStreamerCmd
	userID       uuid.UUID
	replyChannel chan int
}

type stopCmd struct {
	baseStreamerCmd
}

// Streamer pushes live feed snapshots to WebSocket clients. Each registered
// connection is paired with the update channel of the feed it watches.
type Streamer struct {
	cmdCh             chan streamerCmd
	clock             clockwork.Clock
	clients           map[uuid.UUID]userClients
	done              chan struct{}
	stopped           atomic.Bool
	stopTimeout       time.Duration
	maxClientsPerUser int
	idleTimeout       time.Duration
}

// NewStreamer starts the streamer actor. maxClientsPerUser bounds concurrent
// connections per user; idleTimeout closes connections that stop answering pings.
func NewStreamer(clock clockwork.Clock, maxClientsPerUser int, idleTimeout time.Duration) *Streamer {
	s := &Streamer{
		cmdCh:             make(chan streamerCmd, 256),
		clock:             clock,
		clients:           make(map[uuid.UUID]userClients),
		done:              make(chan struct{}),
		stopTimeout:       stopTimeout,
		maxClientsPerUser: max(maxClientsPerUser, 1),
		idleTimeout:       idleTimeout,
	}
	go s.run()
	return s
}

// Register starts streaming feed updates and toasts to conn until updates is
// closed. notes may be nil. The connection is closed and an error returned
// when the user already has the maximum number of connections.
func (s *Streamer) Register(userID uuid.UUID, conn *websocket.Conn, updates <-chan app.FeedState, notes <-chan domain.Notification) error {
	errCh := make(chan error, 1)
	if !s.send(registerCmd{userID: userID, connection: conn, updates: updates, notes: notes, errorChannel: errCh}) {
		return ErrStreamerStopped
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

func (s *Streamer) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	s.send(unregisterCmd{userID: userID, connection: conn})
}

// ClientCount returns the number of connections held for userID, or -1 when
// the streamer does not answer in time.
func (s *Streamer) ClientCount(userID uuid.UUID) int {
	replyCh := make(chan int, 1)
	if !s.send(clientCountCmd{userID: userID, replyChannel: replyCh}) {
		return 0
	}

	timer := s.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop sends every client a close frame and waits for the actor to exit.
func (s *Streamer) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	if !s.send(stopCmd{}) {
		return
	}

	timeout := s.clock.NewTimer(s.stopTimeout)
	defer timeout.Stop()

	select {
	case <-s.done:
		slog.Info("Streamer stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Streamer stop timeout exceeded", "timeout", s.stopTimeout)
		metrics.StreamerStopTimeoutsTotal.Inc()
	}
}

func (s *Streamer) send(cmd streamerCmd) bool {
	select {
	case s.cmdCh <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *Streamer) run() {
	defer close(s.done)

	depthTicker := s.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			metrics.StreamerCommandChannelDepth.Set(float64(len(s.cmdCh)))
		case cmd := <-s.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				s.handleRegister(c)
			case unregisterCmd:
				s.handleUnregister(c)
			case clientCountCmd:
				c.replyChannel <- len(s.clients[c.userID])
			case stopCmd:
				s.handleStop()
				return
			default:
				slog.Warn("Streamer received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (s *Streamer) handleRegister(c registerCmd) {
	clients, exists := s.clients[c.userID]
	if !exists {
		clients = make(userClients)
	}

	if len(clients) >= s.maxClientsPerUser {
		slog.Warn("Rejecting client: max connections reached", "user_id", c.userID.String(), "max_clients", s.maxClientsPerUser)
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("max connections per user (%d) reached", s.maxClientsPerUser)
		return
	}

	sc := &streamClient{
		writer: newClientWriter(c.connection, s.clock, s.idleTimeout),
		quit:   make(chan struct{}),
	}
	clients[c.connection] = sc
	s.clients[c.userID] = clients
	go s.forward(c.userID, c.connection, sc, c.updates, c.notes)

	metrics.StreamerConnectedClients.Inc()
	metrics.StreamerActiveUsers.Set(float64(len(s.clients)))

	slog.Debug("Client registered", "user_id", c.userID.String(), "user_clients", len(clients))
	c.errorChannel <- nil
}

func (s *Streamer) handleUnregister(c unregisterCmd) {
	clients, exists := s.clients[c.userID]
	if !exists {
		return
	}
	sc, exists := clients[c.connection]
	if !exists {
		return
	}

	close(sc.quit)
	sc.writer.stop()
	delete(clients, c.connection)
	metrics.StreamerConnectedClients.Dec()

	if len(clients) == 0 {
		delete(s.clients, c.userID)
		metrics.StreamerActiveUsers.Set(float64(len(s.clients)))
	}
	slog.Debug("Client unregistered", "user_id", c.userID.String(), "remaining_clients", len(clients))
}

func (s *Streamer) handleStop() {
	count := 0
	for _, clients := range s.clients {
		for _, sc := range clients {
			close(sc.quit)
			sc.writer.stopGraceful(shutdownReason)
			count++
		}
	}
	s.clients = make(map[uuid.UUID]userClients)
	metrics.StreamerConnectedClients.Set(0)
	metrics.StreamerActiveUsers.Set(0)
	slog.Info("Streamer closed all clients", "clients", count)
}

// forward relays feed snapshots and toasts to the client's writer until the
// feed closes or the client is removed. A client whose buffer is full is evicted.
func (s *Streamer) forward(userID uuid.UUID, conn *websocket.Conn, sc *streamClient, updates <-chan app.FeedState, notes <-chan domain.Notification) {
	for {
		var msg Message
		select {
		case <-sc.quit:
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			msg = Message{Type: MessageFeed, Feed: &state}
		case note, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			msg = Message{Type: MessageNotification, Notification: &note}
		}

		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to marshal stream message", "type", msg.Type, "error", err)
			continue
		}
		if !sc.writer.enqueue(data) {
			slog.Warn("Disconnecting slow client", "user_id", userID.String())
			metrics.WebSocketSlowClientsEvicted.Inc()
			s.Unregister(userID, conn)
			return
		}
	}
}

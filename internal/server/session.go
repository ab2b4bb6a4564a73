package server

import (
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/types"
)

type SessionID string

// Conn is the transport handle a session closes when it is destroyed.
type Conn interface {
	Close() error
}

type deliveryResult int

const (
	delivered deliveryResult = iota
	deliveryClosed
	deliveryQueueFull
)

// Session is one live connection of an authenticated user.
type Session struct {
	id          SessionID
	user        types.User
	connectedAt time.Time
	rooms       mapset.Set
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	conn        Conn

	// pumped is set once the read and write pumps own conn. The write pump
	// then sends the close frame and closes conn itself.
	pumped atomic.Bool
}

func newSession(id SessionID, user types.User, conn Conn, queueSize int) *Session {
	return &Session{
		id:          id,
		user:        user,
		connectedAt: Now(),
		rooms:       mapset.NewSet(),
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
		conn:        conn,
	}
}

func (s *Session) ID() SessionID {
	return s.id
}

func (s *Session) User() types.User {
	return s.user
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Rooms returns a snapshot of the rooms the session belongs to.
func (s *Session) Rooms() []membership.RoomID {
	items := s.rooms.ToSlice()
	rooms := make([]membership.RoomID, 0, len(items))
	for _, item := range items {
		rooms = append(rooms, item.(membership.RoomID))
	}
	return rooms
}

func (s *Session) InRoom(room membership.RoomID) bool {
	return s.rooms.Contains(room)
}

// Outbound is drained by the connection's writer.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed once the session has been removed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// deliver never blocks. The send channel is never closed, so a delivery
// racing with removal is dropped rather than panicking.
func (s *Session) deliver(frame []byte) deliveryResult {
	if s.closed() {
		return deliveryClosed
	}

	select {
	case s.send <- frame:
		return delivered
	default:
		return deliveryQueueFull
	}
}

// attachPumps hands ownership of the connection to the pumps.
func (s *Session) attachPumps() {
	s.pumped.Store(true)
}

func (s *Session) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil && !s.pumped.Load() {
			err = s.conn.Close()
		}
	})
	return err
}

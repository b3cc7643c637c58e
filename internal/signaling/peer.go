package signaling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

// wsPeer adapts a WebSocket to broker.Peer. Send never blocks: notifications
// are queued for the writer goroutine and dropped when the queue is full or
// the socket is closing.
type wsPeer struct {
	conn  *websocket.Conn
	queue chan []byte

	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

func newWSPeer(conn *websocket.Conn, queueSize int) *wsPeer {
	p := &wsPeer{
		conn:  conn,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	p.open.Store(true)
	return p
}

func (p *wsPeer) Send(data []byte) bool {
	if !p.open.Load() {
		return false
	}
	select {
	case p.queue <- data:
		return true
	default:
		return false
	}
}

func (p *wsPeer) Open() bool {
	return p.open.Load()
}

// startWriter drains the send queue and pings every pingInterval. A failed
// write closes the socket, which in turn ends the read loop.
func (p *wsPeer) startWriter(pingInterval time.Duration) {
	p.writerWG.Add(1)
	go func() {
		defer p.writerWG.Done()

		var tick <-chan time.Time
		if pingInterval > 0 {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-p.done:
				return
			case msg := <-p.queue:
				_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					p.shutdown()
					_ = p.conn.Close()
					return
				}
			case <-tick:
				if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					p.shutdown()
					_ = p.conn.Close()
					return
				}
			}
		}
	}()
}

// closeWith sends a close frame. WriteControl may run concurrently with the
// writer goroutine.
func (p *wsPeer) closeWith(code int, reason string) {
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// shutdown marks the peer closed and stops the writer. Idempotent.
func (p *wsPeer) shutdown() {
	p.closeOnce.Do(func() {
		p.open.Store(false)
		close(p.done)
	})
}

// wait blocks until the writer goroutine has exited.
func (p *wsPeer) wait() {
	p.writerWG.Wait()
}

package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// DefaultAddress is the default ZeroMQ PUB bind address
const DefaultAddress = "tcp://*:5556"

// ZMQConfig contains ZeroMQ publisher settings
type ZMQConfig struct {
	// Address is the bind endpoint (e.g. "tcp://*:5556")
	Address string
	// QueueDepth is the outbound queue size (DefaultQueueDepth if <= 0)
	QueueDepth int
}

// ZMQPublisher publishes two-part messages on a bound ZeroMQ PUB socket
type ZMQPublisher struct {
	*queue

	sock    zmq4.Socket
	address string

	closeOnce sync.Once
	closeErr  error
}

// NewZMQPublisher binds a PUB socket and starts the writer.
// The socket lives until Close or until ctx is cancelled.
func NewZMQPublisher(ctx context.Context, cfg ZMQConfig) (*ZMQPublisher, error) {
	address := cfg.Address
	if address == "" {
		address = DefaultAddress
	}

	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(listenEndpoint(address)); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind zmq publisher on %s: %w", address, err)
	}

	p := &ZMQPublisher{
		sock:    sock,
		address: address,
	}
	p.queue = newQueue("zmq", cfg.QueueDepth, p.write)

	slog.Info("zmq publisher bound",
		"address", address,
		"listen_addr", p.Addr().String(),
		"queue_depth", cap(p.queue.ch),
	)

	return p, nil
}

// Addr returns the bound listener address (useful with port 0)
func (p *ZMQPublisher) Addr() net.Addr {
	return p.sock.Addr()
}

// Close stops the writer and closes the socket
func (p *ZMQPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.queue.close()

		if err := p.sock.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close zmq socket: %w", err)
			return
		}

		slog.Info("zmq publisher closed", "address", p.address)
	})
	return p.closeErr
}

// write sends topic and body as one multipart message
func (p *ZMQPublisher) write(m Message) error {
	return p.sock.Send(zmq4.NewMsgFrom([]byte(m.Topic), m.Body))
}

// listenEndpoint rewrites the libzmq "all interfaces" wildcard for net.Listen
func listenEndpoint(address string) string {
	if strings.HasPrefix(address, "tcp://*:") {
		return "tcp://0.0.0.0:" + strings.TrimPrefix(address, "tcp://*:")
	}
	return address
}

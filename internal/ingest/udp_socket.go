package ingest

import (
	"net"
	"sync"
	"time"
)

// UDPSocket abstracts the subset of *net.UDPConn the listener uses so
// tests can drive the receive loop without opening real sockets.
type UDPSocket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocket wraps *net.UDPConn to satisfy UDPSocket.
type RealUDPSocket struct {
	conn *net.UDPConn
}

func (r *RealUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	return r.conn.ReadFromUDP(b)
}

func (r *RealUDPSocket) SetReadBuffer(bytes int) error {
	return r.conn.SetReadBuffer(bytes)
}

func (r *RealUDPSocket) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

func (r *RealUDPSocket) Close() error {
	return r.conn.Close()
}

func (r *RealUDPSocket) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// RealUDPSocketFactory creates sockets backed by the operating system.
type RealUDPSocketFactory struct{}

func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &RealUDPSocket{conn: conn}, nil
}

// MockUDPPacket is a single canned datagram for MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket replays a fixed packet sequence then times out forever,
// which matches how the listener's deadline loop experiences a quiet
// socket.
type MockUDPSocket struct {
	mu                 sync.Mutex
	Packets            []MockUDPPacket
	ReadIndex          int
	Closed             bool
	ReadError          error
	SetReadBufferError error
	LocalAddress       *net.UDPAddr
}

func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: DEFAULT_UDP_PORT,
		},
	}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// ReadError is delivered once then cleared, after which reads time
	// out normally. A persistent error would spin the receive loop.
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}

	packet := m.Packets[m.ReadIndex]
	m.ReadIndex++
	n := copy(b, packet.Data)
	return n, packet.Addr, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	return m.SetReadBufferError
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// MockListenCall records one ListenUDP invocation.
type MockListenCall struct {
	Network string
	Laddr   *net.UDPAddr
}

// MockUDPSocketFactory hands out a prepared socket and records how it was
// asked for.
type MockUDPSocketFactory struct {
	Socket      *MockUDPSocket
	ListenError error
	ListenCalls []MockListenCall
}

func NewMockUDPSocketFactory(socket *MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Socket: socket}
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.ListenCalls = append(f.ListenCalls, MockListenCall{Network: network, Laddr: laddr})
	if f.ListenError != nil {
		return nil, f.ListenError
	}
	return f.Socket, nil
}

// timeoutError satisfies net.Error so mock reads behave like deadline
// expiries.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

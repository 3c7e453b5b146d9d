// Package netutil provides local networking helpers, chiefly the free-port
// reservation used by browser-backed experiences.
package netutil

import (
	"fmt"
	"net"
	"sync"

	"github.com/footron/footron/internal/log"
)

// PortManager hands out OS-assigned free ports. Reservations are advisory:
// the OS may reuse a released port, which is benign because every reservation
// re-probes by binding port zero.
type PortManager struct {
	mu       sync.Mutex
	reserved []int
}

func NewPortManager() *PortManager {
	return &PortManager{}
}

// Reserve finds a free port by binding port zero and records it.
func (p *PortManager) Reserve() (int, error) {
	port, err := FreePort()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.reserved = append(p.reserved, port)
	p.mu.Unlock()
	return port, nil
}

// Release drops a reservation. Releasing an unknown port is logged, not fatal.
func (p *PortManager) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, reserved := range p.reserved {
		if reserved == port {
			p.reserved = append(p.reserved[:i], p.reserved[i+1:]...)
			return
		}
	}
	logger := log.WithComponent("netutil")
	logger.Warn().
		Str("event", "netutil.release_unknown").
		Int("port", port).
		Msg("attempted to release unregistered port")
}

// Reserved returns a snapshot of currently reserved ports.
func (p *PortManager) Reserved() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.reserved))
	copy(out, p.reserved)
	return out
}

// FreePort asks the OS for an unused TCP port.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("probe free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

package messaging

import (
	"context"
	"fmt"
	"net"
)

// Transport parameterizes a TCP (host+port) or IPC (named socket)
// endpoint (§6 "Abstract Transport values parameterize TCP ... and
// IPC ...").
type Transport struct {
	Network string // "tcp" or "unix"
	Address string // "host:port" for tcp, socket path for unix
}

// TCP builds a TCP transport endpoint.
func TCP(host string, port int) Transport {
	return Transport{Network: "tcp", Address: fmt.Sprintf("%s:%d", host, port)}
}

// IPC builds a named-socket transport endpoint.
func IPC(socketPath string) Transport {
	return Transport{Network: "unix", Address: socketPath}
}

func (t Transport) String() string { return t.Network + "://" + t.Address }

// Dial connects to the endpoint as a client.
func (t Transport) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, t.Network, t.Address)
}

// Listen binds the endpoint as a server.
func (t Transport) Listen() (net.Listener, error) {
	return net.Listen(t.Network, t.Address)
}

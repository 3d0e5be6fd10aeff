package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the port assumed when a host string carries none
const DefaultPort = 3000

// --------------------------------------------------------------------------
// Host
// --------------------------------------------------------------------------

// Host is a single network address of a cluster node
type Host struct {
	Name string
	Port int
}

// NewHost creates a host from a name and a port
func NewHost(name string, port int) Host {
	return Host{Name: name, Port: port}
}

// Address returns the host in "name:port" form, suitable for dialing
func (h Host) Address() string {
	return net.JoinHostPort(h.Name, strconv.Itoa(h.Port))
}

// String returns the host in "name:port" form
func (h Host) String() string {
	return h.Address()
}

// ParseHost parses a single "name:port" string. The port is optional and
// defaults to DefaultPort.
func ParseHost(s string) (Host, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Host{}, fmt.Errorf("empty host")
	}

	// plain host without port
	if !strings.Contains(s, ":") {
		return Host{Name: s, Port: DefaultPort}, nil
	}

	name, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Host{}, fmt.Errorf("invalid host %q: %v", s, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Host{}, fmt.Errorf("invalid port in host %q", s)
	}

	return Host{Name: name, Port: port}, nil
}

// ParseHosts parses a comma separated list of "name:port" strings
func ParseHosts(s string) ([]Host, error) {
	var hosts []Host
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		host, err := ParseHost(part)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts in %q", s)
	}
	return hosts, nil
}

package lookupd

import (
	"context"
	"net"
)

// DialContext connects to address on the named network, resolving its host
// through Lookup first. It is the concrete shape of "install(agent)" from
// attaching lookup results to an external connection
// agent's dial path.
func (c *Controller) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	res, err := c.Lookup(ctx, host, LookupOptions{All: true})
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	var lastErr error
	for _, addr := range res.Addresses {
		target := net.JoinHostPort(addr.Address, port)
		conn, derr := dialer.DialContext(ctx, network, target)
		if derr == nil {
			return conn, nil
		}
		lastErr = derr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &net.OpError{Op: "dial", Net: network, Err: net.UnknownNetworkError("no addresses found")}
}

package node

import (
	"fmt"
	"net"
)

// listen binds the node's P2P TCP listener.
func listen(addr string, port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
}

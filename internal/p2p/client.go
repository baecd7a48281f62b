package p2p

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/internal/secchan"
)

// DialTimeout bounds TCP connection establishment to a peer.
const DialTimeout = 10 * time.Second

// Client is a short-lived outbound connection to a single peer, used by
// the sync daemon and any interactive client tooling.
type Client struct {
	conn          net.Conn
	sess          *secchan.Session
	maxFrameBytes int
}

// Dial connects to addr and performs the client side of the handshake.
func Dial(addr string, identity secchan.Identity) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	sess, err := secchan.ClientHandshake(conn, identity, secchan.DefaultMaxFrameBytes)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return &Client{conn: conn, sess: sess, maxFrameBytes: secchan.DefaultMaxFrameBytes}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// PeerSignPub returns the remote peer's signing public key, as learned
// during the handshake.
func (c *Client) PeerSignPub() string {
	return c.sess.PeerSignPub
}

// Call sends method with params and decodes the result into out (nil to
// discard the result). A peer-reported not_found comes back as
// lberr.ErrNotFound; bad_request, forbidden and rate_limited come back as
// taxonomy errors whose lberr.CodeOf is that same code; any other peer
// code becomes a state-machine error (node_error). Transport and protocol
// failures are returned as they occur.
func (c *Client) Call(method string, params any, out any, timeout time.Duration) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		rawParams = data
	}
	req := Request{ID: uuid.NewString(), Method: method, Params: rawParams}

	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	sealed, err := c.sess.Seal(req)
	if err != nil {
		return err
	}
	if err := secchan.WriteFrame(c.conn, sealed, c.maxFrameBytes); err != nil {
		return err
	}

	envBytes, err := secchan.ReadFrame(c.conn, c.maxFrameBytes)
	if err != nil {
		return err
	}
	var resp Response
	if err := c.sess.Open(envBytes, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return errorFromWire(resp.Error)
	}
	if out != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

func errorFromWire(e *ErrorInfo) error {
	switch e.Code {
	case CodeNotFound:
		return lberr.ErrNotFound
	case CodeBadRequest:
		return lberr.Validation(e.Message, nil)
	case CodeForbidden:
		return lberr.Authorization(e.Message, nil)
	case CodeRateLimited:
		return lberr.RateLimited(e.Message, 0)
	default:
		return lberr.StateMachine(e.Message, nil)
	}
}

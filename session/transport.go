package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// maxReadLimit bounds a single inbound frame. Deepgram transcript events are
// small; this leaves generous headroom without allowing an unbounded read.
const maxReadLimit = 32 << 20

// protocolPingInterval is how often transport sends a WebSocket protocol
// ping to keep intermediaries (load balancers, proxies) from reaping an
// otherwise-idle connection. Supplements the application-level KeepAlive
// control frame, which Deepgram's server expects on its own cadence.
const protocolPingInterval = 30 * time.Second

// CloseCode is the WebSocket close status code observed when a transport
// shuts down.
type CloseCode int

// CloseAbnormal is reported when no close frame was observed from either
// side (RFC 6455's 1006). coder/websocket never transmits 1006 itself; this
// is the sentinel transport reports when a read fails without a decodable
// close status, e.g. a reset connection or a context deadline.
const CloseAbnormal CloseCode = 1006

// transport wraps a raw WebSocket connection with the duplex framing C1
// Session needs: binary frames for outbound audio, text frames for control
// messages out and transcript/control events in.
type transport struct {
	conn *websocket.Conn
}

// dial opens a WebSocket connection to rawURL, presenting headers (notably
// Authorization: Token <credential>).
func dial(ctx context.Context, rawURL string, headers http.Header) (*transport, error) {
	opts := &websocket.DialOptions{}
	if headers != nil {
		opts.HTTPHeader = headers
	}
	conn, _, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, fmt.Errorf("session: websocket dial: %w", err)
	}
	conn.SetReadLimit(maxReadLimit)
	return &transport{conn: conn}, nil
}

// writeAudio sends a binary frame carrying raw audio samples.
func (t *transport) writeAudio(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("session: websocket write audio: %w", err)
	}
	return nil
}

// writeControl encodes v as JSON and sends it as a text frame.
func (t *transport) writeControl(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal control frame: %w", err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("session: websocket write control: %w", err)
	}
	return nil
}

// readText blocks for the next inbound frame. ok is false if the frame was
// binary, which Deepgram never sends inbound but which the caller should
// not mistake for a text payload.
func (t *transport) readText(ctx context.Context) (payload []byte, ok bool, err error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, typ == websocket.MessageText, nil
}

// ping sends a protocol-level WebSocket ping and blocks for the pong.
func (t *transport) ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

// close sends a close frame with the given status and reason.
func (t *transport) close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

// runPingLoop sends a protocol ping every protocolPingInterval until ctx is
// cancelled. A failed ping is reported once on errCh and ends the loop; the
// caller is responsible for treating that as connection loss.
func (t *transport) runPingLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(protocolPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.ping(ctx); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
		}
	}
}

// closeCode extracts the observed close status code from err, falling back
// to CloseAbnormal if err carries no decodable close status (a reset
// connection, a read deadline, context cancellation).
func closeCode(err error) CloseCode {
	if err == nil {
		return CloseCode(websocket.StatusNormalClosure)
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return CloseCode(code)
	}
	return CloseAbnormal
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
)

// Application close codes sent by the gateway.
const (
	ClosePeerNotFound     = 4001
	CloseConnectionFailed = 4002
)

var closeReasons = map[int]string{
	websocket.CloseNormalClosure:     "normal closure",
	websocket.CloseGoingAway:         "going away",
	websocket.CloseProtocolError:     "protocol error",
	websocket.CloseUnsupportedData:   "unsupported data",
	websocket.CloseNoStatusReceived:  "no status received",
	websocket.CloseAbnormalClosure:   "abnormal closure",
	websocket.ClosePolicyViolation:   "policy violation",
	websocket.CloseMessageTooBig:     "message too big",
	websocket.CloseInternalServerErr: "internal error",
	ClosePeerNotFound:                "peer not found",
	CloseConnectionFailed:            "connection failed",
}

// CloseReason maps a close code to a human readable reason.
func CloseReason(code int) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("unknown close code %d", code)
}

// CloseInfo describes why a connection ended.
type CloseInfo struct {
	Code   int
	Reason string
	Err    error
}

// Normal reports whether the close was a clean shutdown, which never
// triggers a reconnect.
func (c CloseInfo) Normal() bool {
	return c.Code == websocket.CloseNormalClosure
}

func (c CloseInfo) String() string {
	if c.Err != nil {
		return fmt.Sprintf("%d %s: %v", c.Code, c.Reason, c.Err)
	}
	return fmt.Sprintf("%d %s", c.Code, c.Reason)
}

func newCloseInfo(code int, err error) CloseInfo {
	return CloseInfo{Code: code, Reason: CloseReason(code), Err: err}
}

// CloseInfoFromError classifies a read, dial or timeout error. Anything that
// is not a close frame counts as an abnormal closure.
func CloseInfoFromError(err error) CloseInfo {
	if err == nil {
		return newCloseInfo(websocket.CloseNormalClosure, nil)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return newCloseInfo(closeErr.Code, err)
	}
	var dialErr *DialError
	if errors.As(err, &dialErr) && dialErr.Code != 0 {
		return newCloseInfo(dialErr.Code, err)
	}
	return newCloseInfo(websocket.CloseAbnormalClosure, err)
}

// DialError is returned when a connection never reaches the open state.
type DialError struct {
	Endpoint string
	Code     int
	Err      error
}

func (e *DialError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("connect to %s timed out", e.Endpoint)
	}
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt ran out of time. The handshake deadline
// surfaces either as the context error or as a network i/o timeout.
func (e *DialError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether a close warrants a reconnect.
func IsRetryable(info CloseInfo) bool {
	return !info.Normal()
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestCloseReason_Table(t *testing.T) {
	req := require.New(t)

	req.Equal("normal closure", CloseReason(1000))
	req.Equal("going away", CloseReason(1001))
	req.Equal("protocol error", CloseReason(1002))
	req.Equal("abnormal closure", CloseReason(1006))
	req.Equal("policy violation", CloseReason(1008))
	req.Equal("message too big", CloseReason(1009))
	req.Equal("internal error", CloseReason(1011))
	req.Equal("peer not found", CloseReason(ClosePeerNotFound))
	req.Equal("connection failed", CloseReason(CloseConnectionFailed))
	req.Equal("unknown close code 4999", CloseReason(4999))
}

func TestCloseInfoFromError(t *testing.T) {
	req := require.New(t)

	info := CloseInfoFromError(&websocket.CloseError{Code: websocket.CloseGoingAway})
	req.Equal(websocket.CloseGoingAway, info.Code)
	req.Equal("going away", info.Reason)
	req.True(IsRetryable(info))

	info = CloseInfoFromError(fmt.Errorf("read: %w", io.ErrUnexpectedEOF))
	req.Equal(websocket.CloseAbnormalClosure, info.Code)

	info = CloseInfoFromError(&DialError{Endpoint: "ws://x", Code: ClosePeerNotFound, Err: errors.New("bad handshake")})
	req.Equal(ClosePeerNotFound, info.Code)

	info = CloseInfoFromError(&DialError{Endpoint: "ws://x", Err: context.DeadlineExceeded})
	req.Equal(websocket.CloseAbnormalClosure, info.Code)
	req.Contains(info.Err.Error(), "timed out")

	info = CloseInfoFromError(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	req.True(info.Normal())
	req.False(IsRetryable(info))
}

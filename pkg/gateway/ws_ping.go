package gateway

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

const (
	streamPingInterval = 20 * time.Second
	streamPingTimeout  = 5 * time.Second
)

// keepStreamAlive pings a stream connection in the background so quiet
// job and shell streams survive idle-connection proxies. Ping failures
// are ignored here; the read loop observes the dead connection and tears
// the stream down.
func keepStreamAlive(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(streamPingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, streamPingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}

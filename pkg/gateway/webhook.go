package gateway

import (
	"context"
	"fmt"

	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// NewWebhookDispatcher delivers completed packets by POSTing the
// response to a fixed URL. Surfaces without an in-process adapter
// (discord relay, web frontend) consume this shape.
func NewWebhookDispatcher(url string, client *httpclient.Client) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, p *packet.Packet) error {
		resp, err := client.PostJSON(ctx, url, map[string]any{
			"packet_id":  p.Header.PacketID,
			"session_id": p.Header.SessionID,
			"response":   p.Response.Candidate,
		})
		if err != nil {
			return fmt.Errorf("webhook delivery failed: %w", err)
		}
		resp.Body.Close()
		return nil
	})
}

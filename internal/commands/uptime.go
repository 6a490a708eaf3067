package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nicklaw5/helix/v2"
)

// HelixUptime asks the Twitch API whether a channel is live.
type HelixUptime struct {
	client *helix.Client
}

func NewHelixUptime(clientID, accessToken string) (*HelixUptime, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:        clientID,
		UserAccessToken: accessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("helix: NewClient: %w", err)
	}
	return &HelixUptime{client: client}, nil
}

// StreamStart returns the start time of the live stream on channel. The
// helix client has no context support, so ctx is only checked up front.
func (h *HelixUptime) StreamStart(ctx context.Context, channel string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	resp, err := h.client.GetStreams(&helix.StreamsParams{UserLogins: []string{channel}})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("helix: GetStreams: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, false, fmt.Errorf("helix: GetStreams failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Streams) == 0 {
		return time.Time{}, false, nil
	}
	return resp.Data.Streams[0].StartedAt, true, nil
}

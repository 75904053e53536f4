package bluesky

import (
	"context"
	"fmt"
	"net/url"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

// GetProfile fetches app.bsky.actor.getProfile for a DID or handle. A missing,
// deactivated or taken-down account is reported as not found.
func (c *Client) GetProfile(ctx context.Context, actor string) (*domain.Profile, bool, error) {
	params := url.Values{}
	params.Set("actor", actor)

	var profile domain.Profile
	if err := c.get(ctx, "app.bsky.actor.getProfile", params, &profile); err != nil {
		if isUnavailable(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get profile %s: %w", actor, err)
	}
	return &profile, true, nil
}

package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SessionChannel is the pub/sub channel carrying pairing events for one session.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("pairing:events:%s", sessionID)
}

func SessionKey(token string) string {
	return fmt.Sprintf("pairing:session:%s", token)
}

func SessionIDKey(sessionID string) string {
	return fmt.Sprintf("pairing:session-id:%s", sessionID)
}

// PendingKey indexes issued tokens by expiry (unix ms) so overdue ones can be swept.
const PendingKey = "pairing:pending"

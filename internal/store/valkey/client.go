package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/sheetflow/internal/config"
)

// NewClient connects to Valkey and waits until it answers PING. Both the
// queue and the lease service share the returned client.
func NewClient(ctx context.Context, cfg config.ValkeyConfig) (valkey.Client, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	var client valkey.Client
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		c, err := valkey.NewClient(opts)
		if err != nil {
			return fmt.Errorf("create valkey client: %w", err)
		}
		if err := c.Do(ctx, c.B().Ping().Build()).Error(); err != nil {
			c.Close()
			return fmt.Errorf("ping valkey: %w", err)
		}
		client = c
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	return client, nil
}

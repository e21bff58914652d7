package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

var (
	releaseScript = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Valkey implements Service with SET NX PX. The key's value is the owner
// token; release and extension compare it server-side.
type Valkey struct {
	client valkey.Client
}

func NewValkey(client valkey.Client) *Valkey {
	return &Valkey{client: client}
}

func (v *Valkey) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l := Lease{Key: key, Token: uuid.NewString()}
	resp := v.client.Do(ctx, v.client.B().Set().Key(key).Value(l.Token).
		Nx().PxMilliseconds(ttl.Milliseconds()).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return Lease{}, false, nil
		}
		return Lease{}, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return l, true, nil
}

func (v *Valkey) Release(ctx context.Context, l Lease) error {
	if l.Token == "" {
		return nil
	}
	if err := releaseScript.Exec(ctx, v.client, []string{l.Key}, []string{l.Token}).Error(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	return nil
}

func (v *Valkey) Extend(ctx context.Context, l Lease, ttl time.Duration) error {
	if l.Token == "" {
		return ErrNotHeld
	}
	n, err := extendScript.Exec(ctx, v.client, []string{l.Key},
		[]string{l.Token, strconv.FormatInt(ttl.Milliseconds(), 10)}).AsInt64()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

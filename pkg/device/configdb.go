package device

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/settings"
	"github.com/newtron-network/fibopt/pkg/util"
)

// PrefixSetTable is the CONFIG_DB table prefix lists are written to.
const PrefixSetTable = "PREFIX_SET"

// TableChange is a single CONFIG_DB write. Nil Fields deletes the key.
type TableChange struct {
	Table  string
	Key    string
	Fields map[string]string
}

// RedisKey returns the "TABLE|key" form.
func (c TableChange) RedisKey() string {
	return c.Table + "|" + c.Key
}

// PrefixSetChanges returns the entries that make up a prefix list in
// CONFIG_DB: one "PREFIX_SET|<name>|<seq>" hash per entry.
func PrefixSetChanges(name string, l prefixlist.List) []TableChange {
	changes := make([]TableChange, 0, len(l))
	for _, e := range l.Entries() {
		changes = append(changes, TableChange{
			Table: PrefixSetTable,
			Key:   fmt.Sprintf("%s|%d", name, e.Sequence),
			Fields: map[string]string{
				"ip_prefix": e.Prefix,
				"action":    e.Action,
			},
		})
	}
	return changes
}

// ConfigDBChannel writes prefix lists to CONFIG_DB.
type ConfigDBChannel struct {
	client *redis.Client
	tunnel *SSHTunnel
}

// OpenConfigDB connects to CONFIG_DB directly or, with cfg.Tunnel, through
// an SSH tunnel to the switch.
func OpenConfigDB(cfg settings.DeviceConfig) (*ConfigDBChannel, error) {
	var tunnel *SSHTunnel
	addr := net.JoinHostPort(cfg.Host, "6379")
	if cfg.Port != 0 && !cfg.Tunnel {
		addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.Tunnel {
		var err error
		tunnel, err = NewSSHTunnel(cfg.Host, cfg.Port, cfg.User, cfg.Password)
		if err != nil {
			return nil, err
		}
		if addr, err = tunnel.ForwardRedis(); err != nil {
			tunnel.Close()
			return nil, err
		}
	}

	c := NewConfigDBChannel(addr, cfg.RedisDB)
	c.tunnel = tunnel
	if err := c.client.Ping(context.Background()).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("connecting to CONFIG_DB at %s: %w", addr, err)
	}
	return c, nil
}

// NewConfigDBChannel creates a channel for the Redis at addr. It does not
// connect until the first Apply.
func NewConfigDBChannel(addr string, db int) *ConfigDBChannel {
	return &ConfigDBChannel{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
	}
}

// Apply replaces every PREFIX_SET entry of the list in one MULTI/EXEC
// transaction, so readers never see a half-written list.
func (c *ConfigDBChannel) Apply(ctx context.Context, pl PrefixList) error {
	pattern := fmt.Sprintf("%s|%s|*", PrefixSetTable, pl.Name)
	stale, err := c.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("scanning keys for %s: %w", pl.Name, err)
	}

	changes := PrefixSetChanges(pl.Name, pl.Entries)
	pipe := c.client.TxPipeline()
	for _, key := range stale {
		pipe.Del(ctx, key)
	}
	for _, change := range changes {
		args := make([]interface{}, 0, len(change.Fields)*2)
		for k, v := range change.Fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, change.RedisKey(), args...)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}

	util.WithField("list", pl.Name).Debugf("Replaced %d CONFIG_DB entries with %d", len(stale), len(changes))
	return nil
}

// Entries reads a prefix list back from CONFIG_DB.
func (c *ConfigDBChannel) Entries(ctx context.Context, name string) (prefixlist.List, error) {
	prefix := fmt.Sprintf("%s|%s|", PrefixSetTable, name)
	keys, err := c.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, err
	}
	l := prefixlist.List{}
	for _, key := range keys {
		seq, err := strconv.Atoi(key[len(prefix):])
		if err != nil {
			continue
		}
		vals, err := c.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		l[seq] = vals["ip_prefix"]
	}
	return l, nil
}

// Close closes the Redis connection and the tunnel, if any.
func (c *ConfigDBChannel) Close() error {
	err := c.client.Close()
	if c.tunnel != nil {
		if terr := c.tunnel.Close(); err == nil {
			err = terr
		}
	}
	return err
}

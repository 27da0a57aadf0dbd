package database

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions accepts either host:port or a redis:// URL. A password in the
// URL wins over password.
func RedisOptions(rawURL, password string) *redis.Options {
	db := 0
	addr := rawURL

	// Check if REDIS_URL is a full URI like redis://...
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && u.Host != "" {
		addr = u.Host

		if u.User != nil {
			pw, _ := u.User.Password()
			if pw != "" {
				password = pw
			}
		}

		if u.Path != "" && u.Path != "/" {
			if dbNum, err := strconv.Atoi(u.Path[1:]); err == nil {
				db = dbNum
			}
		}
	}

	return &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
}

func OpenRedis(ctx context.Context, rawURL, password string) (*redis.Client, error) {
	opts := RedisOptions(rawURL, password)
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "unable to connect to redis")
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return client, nil
}

package session

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/models"
)

// RedisStore keeps the session in a hash and announces every write on a
// pub/sub channel so other client processes re-sync.
type RedisStore struct {
	rdb     *redis.Client
	key     string
	channel string
}

func NewRedisStore(rdb *redis.Client, profile string) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	key := "client:session:" + profile
	return &RedisStore{rdb: rdb, key: key, channel: key + ":changed"}
}

func (s *RedisStore) Load(ctx context.Context) (Credentials, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Credentials{}, errors.Wrap(err, "load session")
	}

	creds := Credentials{Token: fields["token"]}
	if raw := fields["user"]; raw != "" {
		var u models.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			// a corrupt user record should not sign the client out
			log.Error().Err(err).Msg("Error decoding stored user")
		} else {
			creds.User = &u
		}
	}
	return creds, nil
}

func (s *RedisStore) Save(ctx context.Context, creds Credentials) error {
	user := ""
	if creds.User != nil {
		b, err := json.Marshal(creds.User)
		if err != nil {
			return errors.Wrap(err, "encode user")
		}
		user = string(b)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, "token", creds.Token, "user", user)
		pipe.Publish(ctx, s.channel, "saved")
		return nil
	})
	return errors.Wrap(err, "save session")
}

func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.Publish(ctx, s.channel, "cleared")
		return nil
	})
	return errors.Wrap(err, "clear session")
}

// Watch re-reads the hash on every change notification.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Credentials, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "subscribe to session changes")
	}

	out := make(chan Credentials, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				creds, err := s.Load(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Error reloading session after change")
					continue
				}
				select {
				case out <- creds:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

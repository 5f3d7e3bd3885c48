package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const kvBucket = "ECHO_PRESENCE"

// KV is a SetStore over a NATS JetStream key-value bucket, for deployments
// where several signaling instances must agree on who is online. One key
// per (set, member); Members lists the bucket and filters by set prefix.
type KV struct {
	kv nats.KeyValue
}

func NewKV(nc *nats.Conn) (*KV, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(kvBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: kvBucket})
	}
	if err != nil {
		return nil, fmt.Errorf("presence bucket: %w", err)
	}
	log.Info().Str("module", "presence").Str("bucket", kvBucket).Msg("using NATS KV presence store")
	return &KV{kv: kv}, nil
}

func (s *KV) Add(_ context.Context, set, member string) error {
	_, err := s.kv.Put(kvKey(set, member), []byte{'1'})
	return err
}

func (s *KV) Remove(_ context.Context, set, member string) error {
	err := s.kv.Delete(kvKey(set, member))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *KV) Members(_ context.Context, set string) ([]string, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefix := safeToken(set) + "."
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	return out, nil
}

func kvKey(set, member string) string {
	return safeToken(set) + "." + safeToken(member)
}

// safeToken maps arbitrary set/member strings onto the KV key charset.
// Members here are uuids and short user ids, so the mapping stays unique
// in practice.
func safeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '=':
			return r
		default:
			return '-'
		}
	}, s)
}

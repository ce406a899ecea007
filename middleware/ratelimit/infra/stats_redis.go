package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coordination-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Granularidades aceitas para os hashes por janela de tempo.
const (
	StatsBucketNone   = "none"
	StatsBucketMinute = "minute"
	StatsBucketHour   = "hour"
	StatsBucketDay    = "day"
)

var statsBucketLayouts = map[string]string{
	StatsBucketMinute: "200601021504",
	StatsBucketHour:   "2006010215",
	StatsBucketDay:    "20060102",
}

// ParseStatsBucket normaliza a granularidade; vazio vira "minute".
func ParseStatsBucket(s string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(s))
	if b == "" {
		return StatsBucketMinute, nil
	}
	if _, ok := statsBucketLayouts[b]; ok || b == StatsBucketNone {
		return b, nil
	}
	return "", fmt.Errorf("unknown stats bucket %q (want minute, hour, day or none)", s)
}

// RedisStatsStore agrega decisões em hashes do Redis, somando as de todas as
// instâncias. Layout (campos "allowed" / "denied"):
//
//	<prefix>:total                    cumulativo
//	<prefix>:resource:<resource>      cumulativo, resource em domain.EncodeResource
//	<prefix>:<bucket>:<timestamp>     por janela, expira em ttl
//	<prefix>:route                    campo "<rota codificada>:<resultado>"
//	<prefix>:key:<key>                por identidade (opcional), expira em ttl
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix    string
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(strings.TrimSpace(prefix), ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket aceita os valores de ParseStatsBucket; valor inválido
// mantém o padrão (quem lê config deve validar antes).
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if b, err := ParseStatsBucket(bucket); err == nil {
			s.bucket = b
		}
	}
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: StatsBucketMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// statsWrite é um HINCRBY (mais EXPIRE quando expire=true).
type statsWrite struct {
	key    string
	field  string
	expire bool
}

// plan calcula as escritas de um evento, sem I/O.
func (s *RedisStatsStore) plan(ev domain.StatsEvent) []statsWrite {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}

	writes := []statsWrite{{key: s.prefix + ":total", field: result}}

	if strings.TrimSpace(ev.Resource) != "" {
		writes = append(writes, statsWrite{key: s.prefix + ":resource:" + domain.EncodeResource(ev.Resource), field: result})
	}
	if layout, ok := statsBucketLayouts[s.bucket]; ok {
		writes = append(writes, statsWrite{
			key:    s.prefix + ":" + s.bucket + ":" + at.UTC().Format(layout),
			field:  result,
			expire: true,
		})
	}
	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		writes = append(writes, statsWrite{key: s.prefix + ":route", field: domain.EncodeKeyPart(route, false) + ":" + result})
	}
	if s.trackKeys && ev.Key != "" {
		writes = append(writes, statsWrite{key: s.prefix + ":key:" + string(ev.Key), field: result, expire: true})
	}
	return writes
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, w := range s.plan(ev) {
		pipe.HIncrBy(ctx, w.key, w.field, 1)
		if w.expire && s.ttl > 0 {
			pipe.Expire(ctx, w.key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Package rediskv implements the kv interface on top of Redis.
//
// Layout under a namespace ns:
//
//	ns:coll             hash  key -> value
//	ns:coll:refs        hash  key -> JSON list of the record's index values
//	ns:coll:idx:name    zset  members "value\x00key", all scored 0
//	ns:coll:indexes     set   index names used in the collection
//
// Index ranges are read with ZRANGEBYLEX, which orders members bytewise.
// Mutations run in a MULTI/EXEC pipeline.
package rediskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/storage/kv"
)

const memberSep = "\x00"

// DB is a kv.DB backed by a Redis server.
type DB struct {
	client    *redis.Client
	namespace string
	// serializes read-modify-write of index refs
	mu sync.Mutex
}

// Dial connects to the Redis server at url (redis://...) and verifies the
// connection with PING.
func Dial(ctx context.Context, url, namespace string) (*DB, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "rediskv.Dial",
		"addr":      opt.Addr,
		"namespace": namespace,
	}).Info("Connected to Redis store")

	return New(client, namespace), nil
}

// New wraps an existing client. namespace prefixes every key.
func New(client *redis.Client, namespace string) *DB {
	if namespace == "" {
		namespace = "chamber"
	}
	return &DB{client: client, namespace: namespace}
}

func (db *DB) hashKey(coll string) string { return db.namespace + ":" + coll }

func (db *DB) refsKey(coll string) string { return db.namespace + ":" + coll + ":refs" }

func (db *DB) indexesKey(coll string) string { return db.namespace + ":" + coll + ":indexes" }

func (db *DB) zsetKey(coll, index string) string {
	return db.namespace + ":" + coll + ":idx:" + index
}

func member(ix kv.Index, key string) string { return ix.Value + memberSep + key }

func translate(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return kv.ErrClosed
	}
	return err
}

func (db *DB) loadRefs(ctx context.Context, coll, key string) ([]kv.Index, error) {
	raw, err := db.client.HGet(ctx, db.refsKey(coll), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	var refs []kv.Index
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("corrupt index refs for %s/%s: %w", coll, key, err)
	}
	return refs, nil
}

// Get implements kv.DB.
func (db *DB) Get(ctx context.Context, collection, key string) ([]byte, error) {
	v, err := db.client.HGet(ctx, db.hashKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

// Put implements kv.DB.
func (db *DB) Put(ctx context.Context, collection, key string, value []byte, idx ...kv.Index) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	old, err := db.loadRefs(ctx, collection, key)
	if err != nil {
		return err
	}

	var refs []byte
	if len(idx) > 0 {
		if refs, err = json.Marshal(idx); err != nil {
			return fmt.Errorf("failed to encode index refs: %w", err)
		}
	}

	_, err = db.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ix := range old {
			pipe.ZRem(ctx, db.zsetKey(collection, ix.Name), member(ix, key))
		}
		pipe.HSet(ctx, db.hashKey(collection), key, value)
		if len(idx) == 0 {
			pipe.HDel(ctx, db.refsKey(collection), key)
			return nil
		}
		for _, ix := range idx {
			pipe.ZAdd(ctx, db.zsetKey(collection, ix.Name), redis.Z{Score: 0, Member: member(ix, key)})
			pipe.SAdd(ctx, db.indexesKey(collection), ix.Name)
		}
		pipe.HSet(ctx, db.refsKey(collection), key, refs)
		return nil
	})
	return translate(err)
}

// Delete implements kv.DB.
func (db *DB) Delete(ctx context.Context, collection, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	exists, err := db.client.HExists(ctx, db.hashKey(collection), key).Result()
	if err != nil {
		return translate(err)
	}
	if !exists {
		return kv.ErrNotFound
	}
	old, err := db.loadRefs(ctx, collection, key)
	if err != nil {
		return err
	}

	_, err = db.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ix := range old {
			pipe.ZRem(ctx, db.zsetKey(collection, ix.Name), member(ix, key))
		}
		pipe.HDel(ctx, db.refsKey(collection), key)
		pipe.HDel(ctx, db.hashKey(collection), key)
		return nil
	})
	return translate(err)
}

// GetAllByIndex implements kv.DB.
func (db *DB) GetAllByIndex(ctx context.Context, collection, index, prefix string) ([]kv.Record, error) {
	rng := &redis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		rng = &redis.ZRangeBy{Min: "[" + prefix, Max: "[" + prefix + "\xff"}
	}

	members, err := db.client.ZRangeByLex(ctx, db.zsetKey(collection, index), rng).Result()
	if err != nil {
		return nil, translate(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		i := strings.LastIndex(m, memberSep)
		if i < 0 {
			continue
		}
		keys = append(keys, m[i+1:])
	}

	values, err := db.client.HMGet(ctx, db.hashKey(collection), keys...).Result()
	if err != nil {
		return nil, translate(err)
	}

	out := make([]kv.Record, 0, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, kv.Record{Key: keys[i], Value: []byte(s)})
	}
	return out, nil
}

// GetAll implements kv.DB.
func (db *DB) GetAll(ctx context.Context, collection string) ([]kv.Record, error) {
	all, err := db.client.HGetAll(ctx, db.hashKey(collection)).Result()
	if err != nil {
		return nil, translate(err)
	}
	out := make([]kv.Record, 0, len(all))
	for k, v := range all {
		out = append(out, kv.Record{Key: k, Value: []byte(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear implements kv.DB.
func (db *DB) Clear(ctx context.Context, collection string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	names, err := db.client.SMembers(ctx, db.indexesKey(collection)).Result()
	if err != nil {
		return translate(err)
	}
	keys := []string{db.hashKey(collection), db.refsKey(collection), db.indexesKey(collection)}
	for _, n := range names {
		keys = append(keys, db.zsetKey(collection, n))
	}
	return translate(db.client.Del(ctx, keys...).Err())
}

// Close implements kv.DB.
func (db *DB) Close() error {
	return db.client.Close()
}

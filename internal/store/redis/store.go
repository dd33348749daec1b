// Package redis provides a Redis-backed project store.
//
// Each document is stored as a JSON string under <prefix>project:<hmt_id>.
// A sorted set <prefix>projects, scored by hmt_id, indexes the stored ids for
// ordered paging. Both are written in one MULTI/EXEC transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "pfi:"

// Store persists project documents in Redis.
type Store struct {
	client     *goredis.Client
	prefix     string
	ownsClient bool
}

var _ store.ReadStore = (*Store)(nil)

// Open connects to the Redis server at url and checks it answers.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, store.Unavailable(fmt.Errorf("redis ping failed: %w", err))
	}
	s := New(client, prefix)
	s.ownsClient = true
	return s, nil
}

// New wraps an existing client. Close leaves the client open.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) docKey(hmtID int) string {
	return s.prefix + "project:" + strconv.Itoa(hmtID)
}

func (s *Store) indexKey() string {
	return s.prefix + "projects"
}

// Upsert writes the document and indexes its id.
func (s *Store) Upsert(ctx context.Context, doc *project.Document) error {
	if doc == nil {
		return store.Permanent(fmt.Errorf("document is required"))
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent(fmt.Errorf("encode project %d: %w", doc.HMTID, err))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(doc.HMTID), body, 0)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(doc.HMTID), Member: doc.HMTID})
		return nil
	})
	if err != nil {
		return classify(fmt.Errorf("upsert project %d: %w", doc.HMTID, err))
	}
	return nil
}

// Get returns one project by hmt_id.
func (s *Store) Get(ctx context.Context, hmtID int) (*project.Document, error) {
	body, err := s.client.Get(ctx, s.docKey(hmtID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get project %d: %w", hmtID, err))
	}
	return decodeDocument(body)
}

// List returns projects in hmt_id order.
func (s *Store) List(ctx context.Context, offset, limit int) (store.Page, error) {
	offset = max(offset, 0)

	total, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return store.Page{}, classify(fmt.Errorf("count projects: %w", err))
	}
	page := store.Page{Total: int(total)}
	if int64(offset) >= total {
		return page, nil
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), int64(offset), stop).Result()
	if err != nil {
		return store.Page{}, classify(fmt.Errorf("list project ids: %w", err))
	}
	if len(ids) == 0 {
		return page, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + "project:" + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return store.Page{}, classify(fmt.Errorf("read projects: %w", err))
	}
	for _, v := range values {
		body, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := decodeDocument([]byte(body))
		if err != nil {
			return store.Page{}, err
		}
		page.Documents = append(page.Documents, doc)
	}
	return page, nil
}

// Health checks the connection.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if Open created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func decodeDocument(body []byte) (*project.Document, error) {
	var doc project.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode project document: %w", err)
	}
	return &doc, nil
}

// classify treats every server or network failure as transient.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return store.Unavailable(err)
}

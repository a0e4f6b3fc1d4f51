// Package cache remembers the last connector a user activated so the next start can
// reconnect it silently.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v2"
	"moff.io/use-wallet/internal/config"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
)

// PreferenceStore keeps the last used connector id. An empty id means none was saved.
type PreferenceStore interface {
	LastConnector(ctx context.Context) (string, error)
	SaveLastConnector(ctx context.Context, id string) error
}

// New picks the redis store when an address is configured and the file store otherwise.
func New(ctx context.Context, conf config.Preference) (PreferenceStore, error) {
	if conf.Redis.Address != "" {
		return NewRedisStore(ctx, &conf.Redis, conf.Key)
	}
	if conf.FilePath != "" {
		return NewFileStore(conf.FilePath), nil
	}
	return NewMemoryStore(), nil
}

type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(ctx context.Context, cred *config.DBCredential, key string) (*RedisStore, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Username: cred.User,
		Password: cred.Password,
		DB:       int(db),
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping to redis")
	}
	log.Debugf("preference - redis store at %s", cred.GetRedisAddress())
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) LastConnector(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get last connector")
	}
	return id, nil
}

func (s *RedisStore) SaveLastConnector(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.key, id, 0).Err(); err != nil {
		return errors.Wrap(err, "set last connector")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type preferenceFile struct {
	LastConnector string `yaml:"last_connector"`
}

// FileStore keeps the preference in a yaml file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) LastConnector(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read preference file")
	}
	var pref preferenceFile
	if err := yaml.Unmarshal(data, &pref); err != nil {
		return "", errors.Wrap(err, "decode preference file")
	}
	return pref.LastConnector, nil
}

func (s *FileStore) SaveLastConnector(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := yaml.Marshal(preferenceFile{LastConnector: id})
	if err != nil {
		return errors.Wrap(err, "encode preference file")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create preference directory")
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write preference file")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace preference file")
}

type MemoryStore struct {
	mu sync.Mutex
	id string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LastConnector(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemoryStore) SaveLastConnector(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"
)

// Kind constants for Datastore entities
const (
	KindStorageScope = "StorageScope"
	KindStorageItem  = "StorageItem"
)

// StorageItemEntity is the Datastore entity for a stored item
type StorageItemEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Value     []byte         `datastore:"value,noindex"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}

// Storage implements coachauth.Storage on Google Cloud Datastore
type Storage struct {
	client    *datastore.Client
	namespace string
	scope     string
	ctx       context.Context
}

// NewStorage creates a Datastore backed Storage. Items are stored in namespace
// under a parent key named scope.
func NewStorage(client *datastore.Client, namespace, scope string) *Storage {
	if scope == "" {
		scope = "default"
	}
	return &Storage{
		client:    client,
		namespace: namespace,
		scope:     scope,
		ctx:       context.Background(),
	}
}

// WithContext returns a copy of the storage with the given context
func (s *Storage) WithContext(ctx context.Context) *Storage {
	return &Storage{
		client:    s.client,
		namespace: s.namespace,
		scope:     s.scope,
		ctx:       ctx,
	}
}

func (s *Storage) scopeKey() *datastore.Key {
	key := datastore.NameKey(KindStorageScope, s.scope, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Storage) itemKey(name string) *datastore.Key {
	key := datastore.NameKey(KindStorageItem, name, s.scopeKey())
	key.Namespace = s.namespace
	return key
}

func (s *Storage) GetItem(key string) ([]byte, error) {
	var entity StorageItemEntity
	if err := s.client.Get(s.ctx, s.itemKey(key), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, err
	}
	return entity.Value, nil
}

func (s *Storage) SetItem(key string, value []byte) error {
	entity := &StorageItemEntity{
		Key:       s.itemKey(key),
		Value:     value,
		UpdatedAt: time.Now(),
	}
	_, err := s.client.Put(s.ctx, entity.Key, entity)
	return err
}

func (s *Storage) RemoveItem(key string) error {
	// Deleting a missing entity is not an error in Datastore
	return s.client.Delete(s.ctx, s.itemKey(key))
}

func (s *Storage) Keys() ([]string, error) {
	query := datastore.NewQuery(KindStorageItem).
		Ancestor(s.scopeKey()).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var keys []string
	it := s.client.Run(s.ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Scope returns the parent key name items are stored under
func (s *Storage) Scope() string {
	return s.scope
}

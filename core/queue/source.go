// Package queue defines the job request message source.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a key is not in the queue
var ErrNotFound = errors.New("message not found")

// Source is a queue of job request messages stored as objects under a bucket prefix
type Source interface {
	// Bucket names the bucket the messages live in
	Bucket() string

	// List returns the keys of all pending messages. An empty queue is not an error.
	List(ctx context.Context) ([]string, error)

	// Fetch reads a whole message into memory
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Delete removes a message from the queue
	Delete(ctx context.Context, key string) error
}

// Memory is an in-memory Source. Keys are listed in lexical order, like an S3 listing.
type Memory struct {
	bucket  string
	objects map[string][]byte
	deleted []string
	mu      sync.Mutex

	// Injected failures
	ListErr    error
	FetchErrs  map[string]error
	DeleteErrs map[string]error
}

// NewMemory creates an empty in-memory queue
func NewMemory(bucket string) *Memory {
	return &Memory{
		bucket:     bucket,
		objects:    make(map[string][]byte),
		FetchErrs:  make(map[string]error),
		DeleteErrs: make(map[string]error),
	}
}

// Put adds or replaces a message
func (m *Memory) Put(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = content
}

// Bucket implements Source
func (m *Memory) Bucket() string {
	return m.bucket
}

// List implements Source
func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Fetch implements Source
func (m *Memory) Fetch(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FetchErrs[key]; err != nil {
		return nil, err
	}
	content, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, m.bucket, key)
	}
	return content, nil
}

// Delete implements Source
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.DeleteErrs[key]; err != nil {
		return err
	}
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// Deleted returns the keys removed so far, in order
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Len returns the number of messages still queued
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

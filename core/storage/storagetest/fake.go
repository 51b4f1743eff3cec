// Package storagetest provides an in-memory ObjectStore for tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"mediaGen/core/storage"
)

var (
	ErrInjected = errors.New("injected store failure")
	ErrNotFound = errors.New("object not found")
)

// FakeStore keeps objects in memory and signs URLs in the same query format
// as S3 presigning (X-Amz-Date, X-Amz-Expires).
type FakeStore struct {
	Bucket string
	Now    func() time.Time

	mu          sync.Mutex
	objects     map[string][]byte
	failPut     map[string]bool
	failSign    map[string]bool
	puts        int
	signs       int
	maxInFlight int
	inFlight    int
	SignDelay   time.Duration
}

var _ storage.ObjectStore = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		Bucket:   "test-bucket",
		Now:      time.Now,
		objects:  make(map[string][]byte),
		failPut:  make(map[string]bool),
		failSign: make(map[string]bool),
	}
}

func (f *FakeStore) FailPut(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut[path] = true
}

func (f *FakeStore) FailSign(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSign[uri] = true
}

func (f *FakeStore) Put(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut[path] {
		return "", ErrInjected
	}
	uri := storage.BuildURI(f.Bucket, path)
	f.objects[uri] = append([]byte(nil), data...)
	return uri, nil
}

func (f *FakeStore) AccessURL(ctx context.Context, uri string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	f.signs++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	fail := f.failSign[uri]
	f.mu.Unlock()

	if f.SignDelay > 0 {
		time.Sleep(f.SignDelay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if fail {
		return "", ErrInjected
	}
	return SignedURL(uri, f.Now(), ttl), nil
}

func (f *FakeStore) Exists(ctx context.Context, uri string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[uri]
	return ok, nil
}

func (f *FakeStore) Get(ctx context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[uri]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", uri, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeStore) Owns(uri string) bool {
	bucket, _, err := storage.ParseURI(uri)
	return err == nil && bucket == f.Bucket
}

// Delete drops an object as if it had been removed out of band.
func (f *FakeStore) Delete(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, uri)
}

func (f *FakeStore) Object(uri string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[uri]
	return data, ok
}

func (f *FakeStore) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *FakeStore) Signs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signs
}

// MaxConcurrentSigns is the highest number of AccessURL calls observed in flight.
func (f *FakeStore) MaxConcurrentSigns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// SignedURL builds a URL shaped like an S3 presigned GET issued at issuedAt.
func SignedURL(uri string, issuedAt time.Time, ttl time.Duration) string {
	bucket, key, err := storage.ParseURI(uri)
	if err != nil {
		bucket, key = "invalid", "invalid"
	}
	q := url.Values{}
	q.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	q.Set("X-Amz-Date", issuedAt.UTC().Format("20060102T150405Z"))
	q.Set("X-Amz-Expires", strconv.Itoa(int(ttl/time.Second)))
	q.Set("X-Amz-Signature", fmt.Sprintf("%x", issuedAt.UnixNano()))
	return fmt.Sprintf("https://%s.s3.example.com/%s?%s", bucket, key, q.Encode())
}

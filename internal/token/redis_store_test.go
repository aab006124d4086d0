package token

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipshow/internal/testsupport/redisstub"
)

func newStubbedRedisStore(t *testing.T, opts redisstub.Options, cfg RedisStoreConfig) (*RedisStore, *redisstub.Server) {
	t.Helper()
	srv, err := redisstub.Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	cfg.Addr = srv.Addr()
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	store, err := NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

func TestRedisStoreTakeSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	store, srv := newStubbedRedisStore(t, redisstub.Options{}, RedisStoreConfig{})

	tok, err := IssueNew(ctx, store)
	require.NoError(t, err)

	keys := srv.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], defaultRedisPrefix))
	assert.NotContains(t, keys[0], tok, "raw token must not be stored")
	assert.Zero(t, srv.TTL(keys[0]))

	ok, err := store.Take(ctx, tok)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Take(ctx, tok)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, srv.Keys())
	assert.Equal(t, 2, srv.CommandCount("GETDEL"))
}

func TestRedisStoreEmptyTokenSkipsRoundTrip(t *testing.T) {
	store, srv := newStubbedRedisStore(t, redisstub.Options{}, RedisStoreConfig{})

	ok, err := store.Take(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, srv.CommandCount("GETDEL"))

	require.ErrorIs(t, store.Issue(context.Background(), ""), ErrEmptyToken)
}

func TestRedisStoreAppliesTTLAndPrefix(t *testing.T) {
	store, srv := newStubbedRedisStore(t, redisstub.Options{}, RedisStoreConfig{
		Prefix: "test:",
		TTL:    time.Minute,
	})

	_, err := IssueNew(context.Background(), store)
	require.NoError(t, err)

	keys := srv.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "test:"))
	ttl := srv.TTL(keys[0])
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisStoreConcurrentTakeGrantsExactlyOne(t *testing.T) {
	ctx := context.Background()
	store, _ := newStubbedRedisStore(t, redisstub.Options{}, RedisStoreConfig{PoolSize: 8})

	tok, err := IssueNew(ctx, store)
	require.NoError(t, err)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.Take(ctx, tok); err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestRedisStoreAuthenticates(t *testing.T) {
	ctx := context.Background()
	store, _ := newStubbedRedisStore(t, redisstub.Options{Password: "s3cret"}, RedisStoreConfig{Password: "s3cret"})

	tok, err := IssueNew(ctx, store)
	require.NoError(t, err)
	ok, err := store.Take(ctx, tok)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoreRejectsWrongPassword(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "s3cret"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	_, err = NewRedisStore(context.Background(), RedisStoreConfig{
		Addr:     srv.Addr(),
		Password: "wrong",
		Timeout:  time.Second,
	})
	require.Error(t, err)
}

func TestRedisStoreSupportsTLS(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{EnableTLS: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caPath, srv.CertPEM(), 0o600))

	store, err := NewRedisStore(context.Background(), RedisStoreConfig{
		Addr:    srv.Addr(),
		Timeout: time.Second,
		TLS:     RedisTLSConfig{CAFile: caPath},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tok, err := IssueNew(context.Background(), store)
	require.NoError(t, err)
	ok, err := store.Take(context.Background(), tok)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisStoreConfig{})
	require.Error(t, err)
}

func TestNewRedisStoreFailsWhenUnreachable(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{})
	require.NoError(t, err)
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	_, err = NewRedisStore(context.Background(), RedisStoreConfig{Addr: addr, Timeout: 200 * time.Millisecond})
	require.Error(t, err)
}

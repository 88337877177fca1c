package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPathAndRelative(t *testing.T) {
	assert.Equal(t, "/clusters/c1/n1", JoinPath("/clusters", "c1", "n1"))
	assert.Equal(t, "/clients/REDIS/c1", JoinPath("/clients/", "/REDIS/", "c1"))
	assert.Equal(t, "/", JoinPath())

	segs, ok := Relative("/clusters/c1", "/clusters/c1/n1/i1")
	assert.True(t, ok)
	assert.Equal(t, []string{"n1", "i1"}, segs)

	segs, ok = Relative("/clusters/c1", "/clusters/c1")
	assert.True(t, ok)
	assert.Empty(t, segs)

	_, ok = Relative("/clusters/c1", "/clusters/c10/n1")
	assert.False(t, ok)
}

func TestStoreBasics(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "/a")
		assert.True(t, errors.Is(err, ErrNotFound))

		require.NoError(t, s.Put(ctx, "/a", []byte("1")))
		v, err := s.Get(ctx, "/a")
		require.NoError(t, err)
		assert.Equal(t, "1", string(v))

		ok, err := s.Exists(ctx, "/a")
		require.NoError(t, err)
		assert.True(t, ok)

		created, err := s.Create(ctx, "/a", []byte("2"))
		require.NoError(t, err)
		assert.False(t, created)
		v, _ = s.Get(ctx, "/a")
		assert.Equal(t, "1", string(v))

		created, err = s.Create(ctx, "/b", []byte("2"))
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestStoreChildrenAndDelete(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, k := range []string{"/r/c1", "/r/c1/n2", "/r/c1/n1", "/r/c1/n1/i1", "/r/c10", "/r/c10/x"} {
			require.NoError(t, s.Put(ctx, k, []byte("{}")))
		}

		children, err := s.Children(ctx, "/r/c1")
		require.NoError(t, err)
		assert.Equal(t, []string{"n2", "n1"}, children, "creation order")

		children, err = s.Children(ctx, "/r")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c10"}, children)

		require.NoError(t, s.Delete(ctx, "/r/c1/n1", false))
		ok, _ := s.Exists(ctx, "/r/c1/n1/i1")
		assert.True(t, ok, "non-recursive delete keeps descendants")

		require.NoError(t, s.Delete(ctx, "/r/c1", true))
		for _, k := range []string{"/r/c1", "/r/c1/n2", "/r/c1/n1/i1"} {
			ok, _ := s.Exists(ctx, k)
			assert.False(t, ok, k)
		}
		ok, _ = s.Exists(ctx, "/r/c10/x")
		assert.True(t, ok, "sibling with a shared prefix survives")
	})
}

func TestStoreWatch(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events := s.Watch(ctx, "/w/c1")
		// give the etcd watcher time to register
		time.Sleep(100 * time.Millisecond)

		require.NoError(t, s.Put(ctx, "/w/c1", []byte("c")))
		require.NoError(t, s.Put(ctx, "/w/c10", []byte("other")))
		require.NoError(t, s.Put(ctx, "/w/c1/n1", []byte("n")))
		require.NoError(t, s.Delete(ctx, "/w/c1/n1", false))

		want := []Event{
			{Type: EventPut, Key: "/w/c1", Value: []byte("c")},
			{Type: EventPut, Key: "/w/c1/n1", Value: []byte("n")},
			{Type: EventDelete, Key: "/w/c1/n1"},
		}
		for _, w := range want {
			select {
			case ev := <-events:
				require.NoError(t, ev.Err)
				assert.Equal(t, w.Type, ev.Type)
				assert.Equal(t, w.Key, ev.Key)
				if w.Type == EventPut {
					assert.Equal(t, string(w.Value), string(ev.Value))
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s %s", w.Type, w.Key)
			}
		}

		cancel()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("watch channel not closed after cancel")
			}
		}
	})
}

func TestMemoryStoreExpireSession(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "/clients/REDIS/c1", []byte("normal")))
	require.NoError(t, s.PutEphemeral(ctx, "/clients/REDIS/c1/me", []byte("normal")))

	recreated := make(chan struct{}, 1)
	s.OnSession(func(ctx context.Context) {
		_ = s.PutEphemeral(ctx, "/clients/REDIS/c1/me", []byte("normal"))
		recreated <- struct{}{}
	})

	s.ExpireSession(ctx)
	<-recreated

	ok, _ := s.Exists(ctx, "/clients/REDIS/c1/me")
	assert.True(t, ok)
	ok, _ = s.Exists(ctx, "/clients/REDIS/c1")
	assert.True(t, ok)
}

func TestMemoryStoreSessionUnregister(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	var calls []string
	unregisterA := s.OnSession(func(context.Context) { calls = append(calls, "a") })
	s.OnSession(func(context.Context) { calls = append(calls, "b") })

	s.ExpireSession(ctx)
	assert.Equal(t, []string{"a", "b"}, calls)

	unregisterA()
	unregisterA()
	calls = nil
	s.ExpireSession(ctx)
	assert.Equal(t, []string{"b"}, calls)
}

func TestEtcdStoreEphemeralRevokedOnClose(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded etcd skipped in short mode")
	}
	client := setupEmbeddedEtcd(t)
	ctx := context.Background()

	s := NewEtcdStoreWithClient(client, 5*time.Second, logging.NewNop())
	require.NoError(t, s.PutEphemeral(ctx, "/eph/a", []byte("x")))
	require.NoError(t, s.PutEphemeral(ctx, "/eph/b", []byte("y")))

	resp, err := client.Get(ctx, "/eph/a")
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	assert.NotZero(t, resp.Kvs[0].Lease)

	require.NoError(t, s.Close())

	other := NewEtcdStoreWithClient(client, 5*time.Second, logging.NewNop())
	defer other.Close()
	ok, err := other.Exists(ctx, "/eph/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

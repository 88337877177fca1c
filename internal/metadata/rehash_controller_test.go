package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastTimeouts = RehashTimeouts{Ack: 2 * time.Second, Finish: 2 * time.Second, Poll: 5 * time.Millisecond}

// fakeClient answers control values the way a proxy does. fail makes it
// answer SYN with FAIL.
func fakeClient(ctx context.Context, t *testing.T, sm *StatusManager, cluster, name string, fail bool) {
	t.Helper()
	require.NoError(t, sm.UpdateClientStatus(ctx, topology.TypeRedis, cluster, name, topology.RehashNormal))

	go func() {
		var last topology.RehashStatus
		for ctx.Err() == nil {
			st, err := sm.ClusterStatus(ctx, topology.TypeRedis, cluster)
			if err == nil && st != last {
				last = st
				reply := topology.RehashStatus("")
				switch st {
				case topology.RehashSyn:
					reply = topology.RehashAck
					if fail {
						reply = topology.RehashFail
					}
				case topology.RehashRehash:
					reply = topology.RehashFinished
				}
				if reply != "" {
					_ = sm.UpdateClientStatus(ctx, topology.TypeRedis, cluster, name, reply)
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestRehashControllerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	sm := NewStatusManager(store, logging.NewNop())
	fakeClient(ctx, t, sm, "c1", "a#1#v", false)
	fakeClient(ctx, t, sm, "c1", "b#2#v", false)

	ctl := NewRehashController(store, topology.TypeRedis, logging.NewNop())
	require.NoError(t, ctl.Run(ctx, "c1", fastTimeouts))

	st, err := sm.ClusterStatus(ctx, topology.TypeRedis, "c1")
	require.NoError(t, err)
	assert.Equal(t, topology.RehashNormal, st)

	clients, err := sm.ClientStatuses(ctx, topology.TypeRedis, "c1")
	require.NoError(t, err)
	for name, st := range clients {
		assert.Equal(t, topology.RehashFinished, st, name)
	}
}

func TestRehashControllerAbortsOnFail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	sm := NewStatusManager(store, logging.NewNop())
	fakeClient(ctx, t, sm, "c1", "a#1#v", false)
	fakeClient(ctx, t, sm, "c1", "b#2#v", true)

	ctl := NewRehashController(store, topology.TypeRedis, logging.NewNop())
	err := ctl.Run(ctx, "c1", fastTimeouts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRehashAborted))
	assert.Contains(t, err.Error(), "b#2#v")

	st, err := sm.ClusterStatus(ctx, topology.TypeRedis, "c1")
	require.NoError(t, err)
	assert.Equal(t, topology.RehashNormal, st)
}

func TestRehashControllerTimesOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sm := NewStatusManager(store, logging.NewNop())
	// registered but never answers
	require.NoError(t, sm.UpdateClientStatus(ctx, topology.TypeRedis, "c1", "mute#1#v", topology.RehashNormal))

	ctl := NewRehashController(store, topology.TypeRedis, logging.NewNop())
	err := ctl.Run(ctx, "c1", RehashTimeouts{Ack: 50 * time.Millisecond, Finish: time.Second, Poll: 5 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRehashAborted))
	assert.Contains(t, err.Error(), "mute#1#v")

	st, err := sm.ClusterStatus(ctx, topology.TypeRedis, "c1")
	require.NoError(t, err)
	assert.Equal(t, topology.RehashNormal, st)
}

func TestRehashControllerWithoutClients(t *testing.T) {
	store := NewMemoryStore()
	ctl := NewRehashController(store, topology.TypeRedis, logging.NewNop())
	require.NoError(t, ctl.Run(context.Background(), "c1", fastTimeouts))
}

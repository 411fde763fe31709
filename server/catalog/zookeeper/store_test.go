package zookeeper

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	data    []byte
	version int32
}

// fakeConn is an in-memory znode tree with ZooKeeper's versioning rules
type fakeConn struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode
	fail  error
	// beforeSet runs once before the next Set, to interleave a writer
	beforeSet func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: make(map[string]*fakeNode)}
}

func (c *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, nil, c.fail
	}
	n, ok := c.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return append([]byte(nil), n.data...), &zk.Stat{Version: n.version}, nil
}

func (c *fakeConn) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, zk.ErrNoNode
	}
	if n.version != version {
		return nil, zk.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++
	return &zk.Stat{Version: n.version}, nil
}

func (c *fakeConn) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	c.nodes[path] = &fakeNode{data: append([]byte(nil), data...)}
	return path, nil
}

func (c *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return false, nil, nil
	}
	return true, &zk.Stat{Version: n.version}, nil
}

func (c *fakeConn) Children(path string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for p := range c.nodes {
		if rest, ok := strings.CutPrefix(p, path+"/"); ok && !strings.Contains(rest, "/") {
			out = append(out, rest)
		}
	}
	return out, &zk.Stat{}, nil
}

func (c *fakeConn) Close() {}

func TestNewCreatesRootPath(t *testing.T) {
	conn := newFakeConn()
	_, err := New(conn, "/stratum/tables/", zerolog.Nop())
	require.NoError(t, err)

	for _, p := range []string{"/stratum", "/stratum/tables"} {
		ok, _, _ := conn.Exists(p)
		assert.True(t, ok, p)
	}
}

func TestPointerStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := New(newFakeConn(), "/stratum", zerolog.Nop())
	require.NoError(t, err)

	_, err = store.Current(ctx, "s3://b/wh/t")
	assert.True(t, errors.IsNotFound(err))

	ok, err := store.Swap(ctx, "s3://b/wh/t", "x", "y")
	require.NoError(t, err)
	assert.False(t, ok, "swap on a missing pointer with an expectation loses")

	ok, err = store.Swap(ctx, "s3://b/wh/t", "", "m0")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Swap(ctx, "s3://b/wh/t", "", "m0b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Swap(ctx, "s3://b/wh/t", "m0", "m1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Swap(ctx, "s3://b/wh/t", "m0", "m2")
	require.NoError(t, err)
	assert.False(t, ok)

	cur, err := store.Current(ctx, "s3://b/wh/t")
	require.NoError(t, err)
	assert.Equal(t, "m1", cur)

	_, err = store.Swap(ctx, "s3://b/wh/u", "", "u0")
	require.NoError(t, err)
	tables, err := store.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://b/wh/t", "s3://b/wh/u"}, tables)
}

func TestPointerStoreVersionRace(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	store, err := New(conn, "/stratum", zerolog.Nop())
	require.NoError(t, err)

	ok, err := store.Swap(ctx, "t", "", "m0")
	require.NoError(t, err)
	require.True(t, ok)

	// another writer moves the pointer between our read and our write
	conn.beforeSet = func() {
		_, err := conn.Set(store.node("t"), []byte("other"), 0)
		require.NoError(t, err)
	}
	ok, err = store.Swap(ctx, "t", "m0", "mine")
	require.NoError(t, err)
	assert.False(t, ok)

	cur, err := store.Current(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "other", cur)
}

func TestPointerStoreConnectionLossIsRetryable(t *testing.T) {
	conn := newFakeConn()
	store, err := New(conn, "/stratum", zerolog.Nop())
	require.NoError(t, err)

	conn.fail = zk.ErrConnectionClosed
	_, err = store.Swap(context.Background(), "t", "", "m0")
	assert.True(t, errors.IsRetryable(err))
	assert.True(t, stderrors.Is(err, zk.ErrConnectionClosed))
}

// Package zookeeper keeps table metadata pointers in ZooKeeper, one znode
// per table. The swap is a versioned Set: the znode version read together
// with the expected location must still be current when the write lands.
package zookeeper

import (
	"context"
	stderrors "errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
)

// Type is the catalog name used in configuration
const Type = "zookeeper"

var (
	ErrConnectFailed = errors.MustNewCode("zookeeper.connect_failed")
	ErrNotConnected  = errors.MustNewCode("zookeeper.not_connected")
)

// Conn is the part of *zk.Conn the store uses
type Conn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Exists(path string) (bool, *zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	Close()
}

// PointerStore implements storage.PointerStore on ZooKeeper
type PointerStore struct {
	conn     Conn
	rootPath string
	logger   zerolog.Logger
}

// Connect dials the ensemble and waits for a session
func Connect(servers []string, rootPath string, sessionTimeout time.Duration, logger zerolog.Logger) (*PointerStore, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.New(ErrConnectFailed, "failed to connect to zookeeper", err).AddContext("servers", strings.Join(servers, ","))
	}
	if err := waitConnected(conn, sessionTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	store, err := New(conn, rootPath, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// New uses an existing connection and creates rootPath if needed
func New(conn Conn, rootPath string, logger zerolog.Logger) (*PointerStore, error) {
	s := &PointerStore{
		conn:     conn,
		rootPath: "/" + strings.Trim(rootPath, "/"),
		logger:   logger.With().Str("component", "zookeeper_catalog").Logger(),
	}
	if err := s.ensurePath(s.rootPath); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PointerStore) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return classify(err, "failed to check znode", cur)
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !stderrors.Is(err, zk.ErrNodeExists) {
				return classify(err, "failed to create znode", cur)
			}
		}
	}
	return nil
}

// node maps a table root to its znode; table roots contain slashes
func (s *PointerStore) node(tableRoot string) string {
	return s.rootPath + "/" + url.QueryEscape(tableRoot)
}

func (s *PointerStore) Current(ctx context.Context, tableRoot string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.New(errors.CommonCanceled, "pointer read canceled", err)
	}
	data, _, err := s.conn.Get(s.node(tableRoot))
	if err != nil {
		return "", classify(err, "failed to read metadata pointer", tableRoot)
	}
	return string(data), nil
}

func (s *PointerStore) Swap(ctx context.Context, tableRoot, expected, next string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.New(errors.CommonCanceled, "pointer swap canceled", err)
	}
	node := s.node(tableRoot)

	data, stat, err := s.conn.Get(node)
	if stderrors.Is(err, zk.ErrNoNode) {
		if expected != "" {
			return false, nil
		}
		_, err := s.conn.Create(node, []byte(next), 0, zk.WorldACL(zk.PermAll))
		if stderrors.Is(err, zk.ErrNodeExists) {
			s.logger.Debug().Str("table_root", tableRoot).Msg("Lost pointer create race")
			return false, nil
		}
		if err != nil {
			return false, classify(err, "failed to create metadata pointer", tableRoot)
		}
		return true, nil
	}
	if err != nil {
		return false, classify(err, "failed to read metadata pointer", tableRoot)
	}

	if string(data) != expected {
		return false, nil
	}
	if _, err := s.conn.Set(node, []byte(next), stat.Version); err != nil {
		if stderrors.Is(err, zk.ErrBadVersion) {
			s.logger.Debug().Str("table_root", tableRoot).Int32("version", stat.Version).Msg("Lost pointer swap race")
			return false, nil
		}
		return false, classify(err, "failed to swap metadata pointer", tableRoot)
	}
	return true, nil
}

// Tables lists every table root with a pointer
func (s *PointerStore) Tables(ctx context.Context) ([]string, error) {
	children, _, err := s.conn.Children(s.rootPath)
	if err != nil {
		return nil, classify(err, "failed to list tables", s.rootPath)
	}
	out := make([]string, 0, len(children))
	for _, c := range children {
		root, err := url.QueryUnescape(c)
		if err != nil {
			continue
		}
		out = append(out, root)
	}
	slices.Sort(out)
	return out, nil
}

func (s *PointerStore) Close() error {
	s.conn.Close()
	return nil
}

func classify(err error, msg, path string) error {
	switch {
	case stderrors.Is(err, zk.ErrNoNode):
		return errors.New(errors.StorageNotFound, msg, err).AddContext("path", path)
	case stderrors.Is(err, zk.ErrNodeExists):
		return errors.New(errors.StorageAlreadyExists, msg, err).AddContext("path", path)
	}
	return errors.New(errors.StorageUnavailable, msg, err).AddContext("path", path)
}

func waitConnected(conn *zk.Conn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := conn.State()
		if st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Newf(ErrNotConnected, "not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

package proxy

import (
	"errors"

	"github.com/soltixdb/shardgate/internal/locator"
)

var (
	ErrEmptyCluster  = errors.New("empty cluster name")
	ErrNotRegistered = errors.New("cluster not registered")
	ErrEmptyKey      = errors.New("empty key")

	// ErrNodeNotFound is the locator miss, re-exported for callers
	ErrNodeNotFound = locator.ErrNodeNotFound

	ErrNodeInactive = errors.New("node inactive")
	ErrNoReadable   = errors.New("no readable instance")
	ErrNoUsableConn = errors.New("no usable connection")
)

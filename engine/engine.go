// Package engine picks and opens the storage backend for a data directory.
package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/config"
	"github.com/intellect4all/kvs/kvstore"
	"github.com/intellect4all/kvs/levelkv"
)

type Kind string

const (
	KindKvs     Kind = "kvs"
	KindLevelDB Kind = "leveldb"
)

var (
	ErrUnknownEngine  = errors.New("unknown engine")
	ErrEngineMismatch = errors.New("data directory belongs to another engine")
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case KindKvs:
		return KindKvs, nil
	case KindLevelDB, "level", "goleveldb":
		return KindLevelDB, nil
	}
	return "", errors.Wrapf(ErrUnknownEngine, "%q", s)
}

// Detect reports which engine owns dir from the files in it. An empty or
// missing directory belongs to no engine yet.
func Detect(dir string) (Kind, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", common.IOError("read data directory", err)
	}

	var kvs, level bool
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		switch {
		case filepath.Ext(f.Name()) == ".seg":
			kvs = true
		case f.Name() == "CURRENT":
			level = true
		}
	}

	switch {
	case kvs && level:
		return "", errors.Wrapf(ErrEngineMismatch, "%s holds both kvs and leveldb files", dir)
	case kvs:
		return KindKvs, nil
	case level:
		return KindLevelDB, nil
	}
	return "", nil
}

// Open opens the engine configured in c, or the one already owning the
// directory when c.Engine is empty. New directories default to kvs.
func Open(c config.Config, log *zap.Logger) (common.Engine, Kind, error) {
	if log == nil {
		log = zap.NewNop()
	}

	requested, err := ParseKind(c.Engine)
	if err != nil {
		return nil, "", err
	}
	detected, err := Detect(c.RootDirectory)
	if err != nil {
		return nil, "", err
	}

	kind := requested
	switch {
	case kind == "" && detected == "":
		kind = KindKvs
	case kind == "":
		kind = detected
	case detected != "" && detected != kind:
		return nil, "", errors.Wrapf(ErrEngineMismatch, "%s is a %s directory, not %s",
			c.RootDirectory, detected, kind)
	}

	log.Debug("opening engine", zap.String("engine", string(kind)), zap.String("dir", c.RootDirectory))

	switch kind {
	case KindLevelDB:
		e, err := levelkv.Open(c.LevelDB(log))
		if err != nil {
			return nil, kind, err
		}
		return e, kind, nil
	default:
		kv, err := kvstore.Open(c.KvStore(log))
		if err != nil {
			return nil, kind, err
		}
		return kv, kind, nil
	}
}

package workload

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/intellect4all/kvs/common"
)

type OpKind uint8

const (
	OpSet OpKind = iota + 1
	OpGet
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpGet:
		return "get"
	case OpRemove:
		return "rm"
	}
	return "unknown"
}

type Op struct {
	Kind  OpKind
	Key   string
	Value string
}

// Sequence generates n operations following cfg's mix and distribution.
// The same cfg always yields the same sequence.
func Sequence(cfg Config, n int) []Op {
	kg := NewKeyGenerator(cfg.NumKeys, cfg.KeySize, cfg.KeyDistribution, cfg.Seed)
	writeShare, removeShare := cfg.Mix.shares()

	ops := make([]Op, 0, n)
	for i := 0; i < n; i++ {
		key := kg.NextKey()
		switch p := kg.rng.Float64(); {
		case p < removeShare:
			ops = append(ops, Op{Kind: OpRemove, Key: key})
		case p < removeShare+writeShare:
			ops = append(ops, Op{Kind: OpSet, Key: key, Value: kg.Value(cfg.ValueSize)})
		default:
			ops = append(ops, Op{Kind: OpGet, Key: key})
		}
	}
	return ops
}

// Apply runs ops against e in order. Removing an absent key is expected
// and not reported.
func Apply(e common.Engine, ops []Op) error {
	for i, op := range ops {
		var err error
		switch op.Kind {
		case OpSet:
			err = e.Set(op.Key, op.Value)
		case OpGet:
			_, _, err = e.Get(op.Key)
		case OpRemove:
			if err = e.Remove(op.Key); errors.Is(err, common.ErrKeyNotFound) {
				err = nil
			}
		}
		if err != nil {
			return errors.Wrapf(err, "op %d: %s %q", i, op.Kind, op.Key)
		}
	}
	return nil
}

// Model is the expected contents of an engine after a sequence of
// operations: the last Set of each key wins and Remove deletes.
type Model map[string]string

func NewModel(ops []Op) Model {
	m := Model{}
	for _, op := range ops {
		m.Apply(op)
	}
	return m
}

func (m Model) Apply(op Op) {
	switch op.Kind {
	case OpSet:
		m[op.Key] = op.Value
	case OpRemove:
		delete(m, op.Key)
	}
}

// Keys returns every key touched by ops, sorted.
func Keys(ops []Op) []string {
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		seen[op.Key] = struct{}{}
	}
	keys := maps.Keys(seen)
	sort.Strings(keys)
	return keys
}

// Snapshot reads keys from e and returns the ones that are present.
func Snapshot(e common.Engine, keys []string) (Model, error) {
	m := Model{}
	for _, key := range keys {
		value, found, err := e.Get(key)
		if err != nil {
			return nil, errors.Wrapf(err, "get %q", key)
		}
		if found {
			m[key] = value
		}
	}
	return m, nil
}

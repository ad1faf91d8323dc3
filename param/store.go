package param

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/buntdb"
	"go.uber.org/zap"
	"nyiyui.ca/hato/fmu/notify"
)

const keyPrefix = "param:"

func key(name string) string { return keyPrefix + name }

// Store keeps runtime overrides on top of a base parameter set and persists
// them in a buntdb file. Use ":memory:" for a store that is not persisted.
type Store struct {
	db   *buntdb.DB
	base Params

	setLock sync.Mutex
	cur     atomic.Pointer[Params]
	mux     *notify.Multiplexer[Params]
}

func Open(path string, base Params) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open param db %s: %w", path, err)
	}
	var cfg buntdb.Config
	err = db.ReadConfig(&cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("param db config: %w", err)
	}
	cfg.SyncPolicy = buntdb.Always
	err = db.SetConfig(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("param db config: %w", err)
	}
	s := &Store{
		db:   db,
		base: base,
		mux:  notify.NewMultiplexer[Params]("param"),
	}
	p := base
	err = db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyPrefix+"*", func(k, value string) bool {
			name := strings.TrimPrefix(k, keyPrefix)
			var text string
			err := json.Unmarshal([]byte(value), &text)
			if err != nil {
				zap.S().Warnw("param: skipping undecodable override", "name", name, "err", err)
				return true
			}
			next, err := p.With(name, text)
			if err != nil {
				zap.S().Warnw("param: skipping override", "name", name, "err", err)
				return true
			}
			p = next
			return true
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	err = p.Validate()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("stored overrides: %w", err)
	}
	s.cur.Store(&p)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot returns the current parameters. The copy is the caller's.
func (s *Store) Snapshot() Params {
	return *s.cur.Load()
}

func (s *Store) Get(name string) (string, error) {
	return s.Snapshot().Get(name)
}

// Set validates, persists and publishes a new value for one parameter.
func (s *Store) Set(name, value string) error {
	s.setLock.Lock()
	defer s.setLock.Unlock()
	next, err := s.Snapshot().With(name, value)
	if err != nil {
		return err
	}
	err = next.Validate()
	if err != nil {
		return fmt.Errorf("set %s=%s: %w", name, value, err)
	}
	text, err := next.Get(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(text)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(name), string(data), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	s.cur.Store(&next)
	zap.S().Infow("param: set", "name", name, "value", text)
	s.mux.Send(next)
	return nil
}

// Reset drops the override for one parameter, returning it to the base value.
func (s *Store) Reset(name string) error {
	s.setLock.Lock()
	defer s.setLock.Unlock()
	baseText, err := s.base.Get(name)
	if err != nil {
		return err
	}
	next, err := s.Snapshot().With(name, baseText)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key(name))
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("reset %s: %w", name, err)
	}
	s.cur.Store(&next)
	s.mux.Send(next)
	return nil
}

// Overrides returns the stored overrides by name.
func (s *Store) Overrides() (map[string]string, error) {
	res := map[string]string{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyPrefix+"*", func(k, value string) bool {
			var text string
			if json.Unmarshal([]byte(value), &text) == nil {
				res[strings.TrimPrefix(k, keyPrefix)] = text
			}
			return true
		})
	})
	return res, err
}

// Subscribe delivers every new snapshot to c. Snapshots are dropped when c is full.
func (s *Store) Subscribe(comment string, c chan Params) {
	s.mux.Subscribe(comment, c)
}

func (s *Store) Unsubscribe(c chan Params) {
	s.mux.Unsubscribe(c)
}

package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "checkpoints"

// State is the resume point for one plan fingerprint
type State struct {
	Plan        string    `json:"plan"`
	Fingerprint string    `json:"fingerprint"`
	RunID       string    `json:"run_id"`
	Completed   []string  `json:"completed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Done reports whether group completed
func (s State) Done(group string) bool {
	for _, g := range s.Completed {
		if g == group {
			return true
		}
	}
	return false
}

// Store keeps resume state in a local bbolt file
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (and creates) the checkpoint file at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	// A second process on the same file waits at most a second, then fails
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint bucket: %w", err)
	}

	return &Store{
		db:     db,
		logger: slog.Default().With("component", "checkpoint"),
	}, nil
}

// Close closes the checkpoint file
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the state for fingerprint; ok is false when none is stored
func (s *Store) Load(fingerprint string) (State, bool, error) {
	var (
		state State
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(fingerprint))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return State{}, false, fmt.Errorf("load checkpoint %s: %w", fingerprint, err)
	}
	return state, found, nil
}

// MarkCompleted appends group to the completed list for fingerprint
func (s *Store) MarkCompleted(fingerprint, plan, runID, group string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))

		var state State
		if data := bucket.Get([]byte(fingerprint)); data != nil {
			if err := json.Unmarshal(data, &state); err != nil {
				return err
			}
		}
		state.Plan = plan
		state.Fingerprint = fingerprint
		state.RunID = runID
		state.UpdatedAt = time.Now().UTC()
		if !state.Done(group) {
			state.Completed = append(state.Completed, group)
		}

		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(fingerprint), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", fingerprint, err)
	}

	s.logger.Debug("group checkpointed", "plan", plan, "group", group, "fingerprint", fingerprint)
	return nil
}

// Clear removes the state for fingerprint
func (s *Store) Clear(fingerprint string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", fingerprint, err)
	}
	return nil
}

// List returns every stored state, most recently updated first
func (s *Store) List() ([]State, error) {
	var states []State
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var state State
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			states = append(states, state)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states, nil
}

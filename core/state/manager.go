package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"protocolreserve/storage"
)

// Manager is a journaled key-value view over a storage.Database. Writes are
// buffered in memory until Commit so a failed call can be rolled back with
// RevertToSnapshot.
//
// Manager is not safe for concurrent use; callers serialize access through
// core/exec.Executor.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	present bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut RLP-encodes value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := string(kvKey(key))
	prev, present := m.dirty[hashed]
	m.journal = append(m.journal, journalEntry{key: hashed, prev: prev, present: present})
	m.dirty[hashed] = encoded
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, ok := m.dirty[string(hashed)]
	if !ok {
		stored, err := m.db.Get(hashed)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		data = stored
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns an identifier for the current write position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write performed after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.present {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit flushes buffered writes to the database and clears the journal.
func (m *Manager) Commit() error {
	for key, value := range m.dirty {
		if err := m.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("commit state: %w", err)
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Pending reports the number of keys written since the last commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Package tracedb persists block profiles and run summaries in LevelDB,
// keyed by the blake2b digest of the program image.
package tracedb

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvm/profile"
	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/crypto/blake2b"
)

const (
	prefixBlock = 'b'
	prefixRun   = 'r'
)

type Digest [32]byte

func (d Digest) String() string { return fmt.Sprintf("%x", d[:]) }

// ProgramDigest identifies a program image.
func ProgramDigest(image []byte) Digest {
	return blake2b.Sum256(image)
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("tracedb: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Store wraps LevelDB. LevelDB handles its own synchronization.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates a database at path. An empty path uses in-memory
// storage.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func OpenMemory() (*Store, error) {
	return Open("")
}

// Get returns (nil, false, nil) when key is absent.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %x: %w", key, err)
	}
	return data, true, nil
}

func (s *Store) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

// GetWithPrefix returns copies of every pair under prefix in key order.
func (s *Store) GetWithPrefix(prefix []byte) ([][2][]byte, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{key, value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("GetWithPrefix %x: %w", prefix, err)
	}
	return results, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func blockKey(d Digest, addr uint64) []byte {
	key := make([]byte, 1+len(d)+8)
	key[0] = prefixBlock
	copy(key[1:], d[:])
	binary.BigEndian.PutUint64(key[1+len(d):], addr)
	return key
}

func prefixKey(prefix byte, d Digest) []byte {
	return append([]byte{prefix}, d[:]...)
}

// LoadProfile returns the stored blocks of a program in address order.
func (s *Store) LoadProfile(d Digest) ([]profile.Block, error) {
	pairs, err := s.GetWithPrefix(prefixKey(prefixBlock, d))
	if err != nil {
		return nil, err
	}
	blocks := make([]profile.Block, 0, len(pairs))
	for _, kv := range pairs {
		var b profile.Block
		if err := cbor.Unmarshal(kv[1], &b); err != nil {
			return nil, fmt.Errorf("tracedb: unmarshal block %x: %w", kv[0], err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// SaveProfile adds p's counts to what is already stored for the program.
func (s *Store) SaveProfile(d Digest, p *profile.Profile) error {
	stored, err := s.LoadProfile(d)
	if err != nil {
		return err
	}
	merged := profile.New()
	merged.Merge(stored)
	merged.Merge(p.Blocks())

	batch := new(leveldb.Batch)
	for _, b := range merged.Blocks() {
		data, err := cborEncMode.Marshal(b)
		if err != nil {
			return fmt.Errorf("tracedb: marshal block 0x%x: %w", b.Address, err)
		}
		batch.Put(blockKey(d, b.Address), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	log.Debug(log.StoreMonitoring, "profile saved", "program", d.String()[:16], "blocks", batch.Len())
	return nil
}

// Run summarises one execution of a program.
type Run struct {
	Seq      uint64 `cbor:"1,keyasint" json:"seq"`
	Engine   string `cbor:"2,keyasint" json:"engine"`
	Fused    bool   `cbor:"3,keyasint" json:"fused"`
	ExitCode int8   `cbor:"4,keyasint" json:"exit_code"`
	Cycles   uint64 `cbor:"5,keyasint" json:"cycles"`
	Entries  uint64 `cbor:"6,keyasint,omitempty" json:"entries,omitempty"`
	Hits     uint64 `cbor:"7,keyasint,omitempty" json:"hits,omitempty"`
	Builds   uint64 `cbor:"8,keyasint,omitempty" json:"builds,omitempty"`
	Error    string `cbor:"9,keyasint,omitempty" json:"error,omitempty"`
}

// AppendRun stores r after the program's last run and returns its sequence
// number, starting at 1.
func (s *Store) AppendRun(d Digest, r Run) (uint64, error) {
	runs, err := s.Runs(d)
	if err != nil {
		return 0, err
	}
	r.Seq = 1
	if n := len(runs); n > 0 {
		r.Seq = runs[n-1].Seq + 1
	}
	data, err := cborEncMode.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("tracedb: marshal run: %w", err)
	}
	key := binary.BigEndian.AppendUint64(prefixKey(prefixRun, d), r.Seq)
	if err := s.Put(key, data); err != nil {
		return 0, err
	}
	return r.Seq, nil
}

// Runs returns the program's runs in order.
func (s *Store) Runs(d Digest) ([]Run, error) {
	pairs, err := s.GetWithPrefix(prefixKey(prefixRun, d))
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(pairs))
	for _, kv := range pairs {
		var r Run
		if err := cbor.Unmarshal(kv[1], &r); err != nil {
			return nil, fmt.Errorf("tracedb: unmarshal run %x: %w", kv[0], err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

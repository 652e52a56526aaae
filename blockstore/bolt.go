package blockstore

import (
	"bytes"
	"encoding/binary"

	"github.com/NebulousLabs/bolt"
	"github.com/NebulousLabs/errors"
	"github.com/kevin-bruhwiler/Kowloon/build"
)

// BoltStore is the durable Store backend shipped with this repo, an
// embedded github.com/NebulousLabs/bolt database standing in for the
// throughput-limited remote KV the contract describes.
type BoltStore struct {
	db   *bolt.DB
	deps Dependencies
}

// OpenBoltStore opens (or creates) a bolt-backed store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	return OpenBoltStoreWithDependencies(path, ProductionDependencies{})
}

// OpenBoltStoreWithDependencies is OpenBoltStore with fault injection for
// tests.
func OpenBoltStoreWithDependencies(path string, deps Dependencies) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "could not open blockstore database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(Assets)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(Grid))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "could not initialize blockstore buckets")
	}
	return &BoltStore{db: db, deps: deps}, nil
}

// assetRowKey encodes an Assets row's bolt key as name, a NUL separator,
// and the big-endian time, so that a bucket cursor seeked to a name prefix
// visits every time-version of that name in ascending time order.
func assetRowKey(name string, t int64) []byte {
	buf := make([]byte, len(name)+1+8)
	copy(buf, name)
	buf[len(name)] = 0
	binary.BigEndian.PutUint64(buf[len(name)+1:], uint64(t))
	return buf
}

func splitAssetRowKey(k []byte) (name string, t int64) {
	i := bytes.IndexByte(k, 0)
	if i < 0 {
		return string(k), 0
	}
	name = string(k[:i])
	t = int64(binary.BigEndian.Uint64(k[i+1:]))
	return name, t
}

func (s *BoltStore) PutChunk(table Table, key Key, value []byte) error {
	if s.deps.Disrupt("BoltStore.PutChunk") {
		return ErrThrottled
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			build.Critical("blockstore: PutChunk called with unknown table", table)
			return ErrUnknownTable
		}
		cp := make([]byte, len(value))
		copy(cp, value)
		if table == Assets {
			return b.Put(assetRowKey(key.Name, key.Time), cp)
		}
		return b.Put([]byte(key.Name), cp)
	})
}

func (s *BoltStore) QueryChunks(table Table, name string, afterTime int64) ([]Chunk, error) {
	if s.deps.Disrupt("BoltStore.QueryChunks") {
		return nil, ErrThrottled
	}
	var out []Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			build.Critical("blockstore: QueryChunks called with unknown table", table)
			return ErrUnknownTable
		}
		if table != Assets {
			v := b.Get([]byte(name))
			if v != nil {
				cp := make([]byte, len(v))
				copy(cp, v)
				out = append(out, Chunk{Key: Key{Name: name}, Value: cp})
			}
			return nil
		}
		prefix := append([]byte(name), 0)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			_, t := splitAssetRowKey(k)
			if t > afterTime {
				cp := make([]byte, len(v))
				copy(cp, v)
				out = append(out, Chunk{Key: Key{Name: name, Time: t}, Value: cp})
			}
		}
		return nil
	})
	return out, err
}

// scanPageSize bounds how many distinct names ScanKeys returns per page.
const scanPageSize = 500

func (s *BoltStore) ScanKeys(table Table, pageToken string) ([]string, string, error) {
	if s.deps.Disrupt("BoltStore.ScanKeys") {
		return nil, "", ErrThrottled
	}
	var names []string
	var next string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			build.Critical("blockstore: ScanKeys called with unknown table", table)
			return ErrUnknownTable
		}
		c := b.Cursor()
		var k []byte
		if pageToken == "" {
			k, _ = c.First()
		} else {
			c.Seek([]byte(pageToken))
			k, _ = c.Next()
		}
		seen := make(map[string]bool)
		for ; k != nil; k, _ = c.Next() {
			name := string(k)
			if table == Assets {
				name, _ = splitAssetRowKey(k)
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			if len(names) >= scanPageSize {
				next = string(k)
				break
			}
		}
		return nil
	})
	return names, next, err
}

func (s *BoltStore) DeleteKey(table Table, name string) error {
	if s.deps.Disrupt("BoltStore.DeleteKey") {
		return ErrThrottled
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			build.Critical("blockstore: DeleteKey called with unknown table", table)
			return ErrUnknownTable
		}
		if table != Assets {
			return b.Delete([]byte(name))
		}
		prefix := append([]byte(name), 0)
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			cp := make([]byte, len(k))
			copy(cp, k)
			keys = append(keys, cp)
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying bolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

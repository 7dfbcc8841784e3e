package storage

// bucketSep separates a bucket name from the keys inside it.
const bucketSep = '/'

// Bucket is a named key space inside a DB. A key k in bucket "calls" is
// stored as "calls/k". Buckets nest, so several stores can share one
// database without seeing each other's keys.
type Bucket struct {
	inner  DB
	prefix []byte
}

// NewBucket opens the bucket name inside db.
func NewBucket(db DB, name string) *Bucket {
	return &Bucket{inner: db, prefix: append([]byte(name), bucketSep)}
}

// Bucket opens the nested bucket name.
func (b *Bucket) Bucket(name string) *Bucket {
	p := make([]byte, 0, len(b.prefix)+len(name)+1)
	p = append(p, b.prefix...)
	p = append(p, name...)
	return &Bucket{inner: b.inner, prefix: append(p, bucketSep)}
}

// Name returns the full key prefix of the bucket, separator included.
func (b *Bucket) Name() string { return string(b.prefix) }

func (b *Bucket) key(k []byte) []byte {
	out := make([]byte, len(b.prefix)+len(k))
	copy(out, b.prefix)
	copy(out[len(b.prefix):], k)
	return out
}

func (b *Bucket) Get(key []byte) ([]byte, error) {
	return b.inner.Get(b.key(key))
}

func (b *Bucket) Put(key, value []byte) error {
	return b.inner.Put(b.key(key), value)
}

func (b *Bucket) Delete(key []byte) error {
	return b.inner.Delete(b.key(key))
}

func (b *Bucket) Has(key []byte) (bool, error) {
	return b.inner.Has(b.key(key))
}

// ForEach visits the keys of the bucket starting with prefix, with the
// bucket name stripped. Nested buckets are visited too.
func (b *Bucket) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.inner.ForEach(b.key(prefix), func(key, value []byte) error {
		return fn(key[len(b.prefix):], value)
	})
}

// Count returns the number of keys in the bucket, nested buckets included.
func (b *Bucket) Count() (int, error) {
	n := 0
	err := b.inner.ForEach(b.prefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Clear deletes every key of the bucket and returns how many were removed.
func (b *Bucket) Clear() (int, error) {
	// Collect first: badger forbids writes inside a read transaction.
	var keys [][]byte
	err := b.inner.ForEach(b.prefix, func(key, _ []byte) error {
		keys = append(keys, clone(key))
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := b.inner.Delete(key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// Close does nothing; the inner DB is closed by its owner.
func (b *Bucket) Close() error { return nil }

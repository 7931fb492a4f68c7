package store

// Store is the durable key-value engine the ledger persists into. Get returns an error
// matching types.ErrNotFound when the key is absent. Iterate visits keys with the given
// prefix in ascending byte order and stops at the first error returned by fn.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Write applies every operation in the batch atomically.
	Write(b *Batch) error
	Close() error
}

type opKind uint8

const (
	opPut opKind = iota
	opDelete
)

type batchOp struct {
	kind  opKind
	key   []byte
	value []byte
}

// Batch is an ordered set of writes applied as one unit by Store.Write.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{kind: opPut, key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{kind: opDelete, key: key})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

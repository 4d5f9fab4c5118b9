package dataset

import (
	"fmt"
	"math/rand"
)

// Minibatch is a stacked run of examples ready for a forward pass.
// Images holds N rows of Shape.Elements() values each.
type Minibatch struct {
	Images []float32
	Labels []int32
	N      int
}

// Iterator walks a partition in fixed-size batches, covering every
// example exactly once per traversal. The final batch of a traversal may
// be short.
type Iterator struct {
	part      *Partition
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
	pos       int
}

// NewIterator returns an iterator over part. With shuffle set, each
// traversal draws a fresh permutation from a source seeded once, so epoch
// orders differ while the whole sequence replays from the seed. Without
// shuffle, every traversal uses storage order.
func NewIterator(part *Partition, batchSize int, shuffle bool, seed int64) (*Iterator, error) {
	if part == nil || part.Len() == 0 {
		return nil, fmt.Errorf("%w: empty partition", ErrDataset)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", ErrDataset, batchSize)
	}
	it := &Iterator{
		part:      part,
		batchSize: batchSize,
		shuffle:   shuffle,
		order:     make([]int, part.Len()),
	}
	for i := range it.order {
		it.order[i] = i
	}
	if shuffle {
		it.rng = rand.New(rand.NewSource(seed))
	}
	it.Reset()
	return it, nil
}

// Batches returns the number of batches per traversal.
func (it *Iterator) Batches() int {
	return (it.part.Len() + it.batchSize - 1) / it.batchSize
}

// Reset starts a new traversal, reshuffling if the iterator shuffles.
func (it *Iterator) Reset() {
	if it.shuffle {
		it.rng.Shuffle(len(it.order), func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
	it.pos = 0
}

// Next returns the next batch of the current traversal. After the
// traversal is exhausted it keeps returning false until Reset.
func (it *Iterator) Next() (Minibatch, bool) {
	if it.pos >= len(it.order) {
		return Minibatch{}, false
	}
	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	idx := it.order[it.pos:end]
	it.pos = end

	batch := Minibatch{
		Images: make([]float32, 0, len(idx)*it.part.Shape.Elements()),
		Labels: make([]int32, 0, len(idx)),
		N:      len(idx),
	}
	for _, i := range idx {
		batch.Images = append(batch.Images, it.part.Example(i)...)
		batch.Labels = append(batch.Labels, it.part.Labels[i])
	}
	return batch, true
}

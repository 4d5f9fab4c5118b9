package dataset

import (
	"fmt"
	"math/rand"
	"time"

	"stencil/internal/augment"
	"stencil/internal/config"
)

// Builder turns a labeled example sequence into a partitioned dataset.
type Builder struct {
	Fractions Fractions
	Seed      int64
}

// FractionsFromConfig reads the partition split from the dataset config
// section.
func FractionsFromConfig(cfg *config.Config) Fractions {
	return Fractions{
		Train:      cfg.Dataset.TrainFraction,
		Validation: cfg.Dataset.ValidationFraction,
		Test:       cfg.Dataset.TestFraction,
	}
}

// Build shuffles the examples with the builder seed and slices them into
// contiguous test, validation, and train ranges. Test and validation get
// floor(N*fraction) examples each; train absorbs the remainder. Every
// source ID lands in exactly one partition.
func (b *Builder) Build(examples []augment.LabeledExample) (*Dataset, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: no examples", ErrDataset)
	}
	if err := b.Fractions.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataset, err)
	}

	shape := Shape{
		Channels: examples[0].Image.Channels,
		Height:   examples[0].Image.Height,
		Width:    examples[0].Image.Width,
	}
	if !shape.valid() {
		return nil, fmt.Errorf("%w: degenerate image shape %dx%dx%d", ErrDataset, shape.Channels, shape.Height, shape.Width)
	}
	seen := make(map[string]struct{}, len(examples))
	for _, ex := range examples {
		if ex.Image.Channels != shape.Channels || ex.Image.Height != shape.Height || ex.Image.Width != shape.Width {
			return nil, fmt.Errorf("%w: example %q shape %dx%dx%d differs from %dx%dx%d",
				ErrDataset, ex.Source, ex.Image.Channels, ex.Image.Height, ex.Image.Width,
				shape.Channels, shape.Height, shape.Width)
		}
		if len(ex.Image.Pixels) != shape.Elements() {
			return nil, fmt.Errorf("%w: example %q has %d values, want %d", ErrDataset, ex.Source, len(ex.Image.Pixels), shape.Elements())
		}
		if _, dup := seen[ex.Source]; dup {
			return nil, fmt.Errorf("%w: duplicate source %q", ErrDataset, ex.Source)
		}
		seen[ex.Source] = struct{}{}
	}

	shuffled := make([]augment.LabeledExample, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewSource(b.Seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := len(shuffled)
	testN := int(float64(n) * b.Fractions.Test)
	valN := int(float64(n) * b.Fractions.Validation)

	ds := &Dataset{
		Test:       stack("test", shuffled[:testN], shape),
		Validation: stack("validation", shuffled[testN:testN+valN], shape),
		Train:      stack("train", shuffled[testN+valN:], shape),
		Shape:      shape,
		Seed:       b.Seed,
		Fractions:  b.Fractions,
		CreatedAt:  time.Now().UTC(),
	}
	return ds, nil
}

func stack(name string, examples []augment.LabeledExample, shape Shape) Partition {
	p := Partition{
		Name:    name,
		Shape:   shape,
		Images:  make([]float32, 0, len(examples)*shape.Elements()),
		Labels:  make([]int32, 0, len(examples)),
		Sources: make([]string, 0, len(examples)),
	}
	for _, ex := range examples {
		p.Images = append(p.Images, ex.Image.Pixels...)
		p.Labels = append(p.Labels, int32(ex.Label))
		p.Sources = append(p.Sources, ex.Source)
	}
	return p
}

package dataset

import (
	"errors"
	"math"
	"time"

	"stencil/internal/services"
)

// Errors distinguishing semantic dataset problems from storage failures.
// Callers classify with errors.Is; both are aliases of the shared
// service taxonomy so run orchestration sees one error vocabulary.
var (
	ErrDataset = services.ErrDataset
	ErrIO      = services.ErrIO
)

// fractionTolerance bounds the accepted drift of the fraction sum from 1.
const fractionTolerance = 1e-6

// Shape is the per-example image shape in channel-major order.
type Shape struct {
	Channels int `json:"channels"`
	Height   int `json:"height"`
	Width    int `json:"width"`
}

// Elements returns the number of values in one example.
func (s Shape) Elements() int {
	return s.Channels * s.Height * s.Width
}

func (s Shape) valid() bool {
	return s.Channels >= 1 && s.Height >= 1 && s.Width >= 1
}

// Fractions is the partition split, in declaration order. The three
// values must be non-negative and sum to 1 within a small tolerance.
type Fractions struct {
	Train      float64 `json:"train"`
	Validation float64 `json:"validation"`
	Test       float64 `json:"test"`
}

func (f Fractions) validate() error {
	if f.Train < 0 || f.Validation < 0 || f.Test < 0 {
		return errors.New("fractions must be non-negative")
	}
	sum := f.Train + f.Validation + f.Test
	if math.Abs(sum-1) > fractionTolerance {
		return errors.New("fractions must sum to 1")
	}
	return nil
}

// Balance counts examples per class within a partition.
type Balance struct {
	Unmarked int `json:"unmarked"`
	Marked   int `json:"marked"`
}

// Partition is one split of a dataset: stacked example rows plus labels
// and source IDs in matching order.
type Partition struct {
	Name    string
	Shape   Shape
	Images  []float32
	Labels  []int32
	Sources []string
}

// Len returns the number of examples in the partition.
func (p *Partition) Len() int {
	return len(p.Labels)
}

// Example returns the pixel row for example i as a view into the stacked
// array. Callers must not modify it.
func (p *Partition) Example(i int) []float32 {
	per := p.Shape.Elements()
	return p.Images[i*per : (i+1)*per]
}

// Balance counts the two classes in the partition.
func (p *Partition) Balance() Balance {
	var b Balance
	for _, label := range p.Labels {
		if label == 0 {
			b.Unmarked++
		} else {
			b.Marked++
		}
	}
	return b
}

// Dataset is the three disjoint partitions plus the parameters that
// produced them. Instances returned by Load are read-only.
type Dataset struct {
	Train      Partition
	Validation Partition
	Test       Partition
	Shape      Shape
	Seed       int64
	Fractions  Fractions
	SourceDirs []string
	CreatedAt  time.Time
}

// Partitions returns the three partitions in artifact order.
func (d *Dataset) Partitions() []*Partition {
	return []*Partition{&d.Train, &d.Validation, &d.Test}
}

// Len returns the total example count across partitions.
func (d *Dataset) Len() int {
	return d.Train.Len() + d.Validation.Len() + d.Test.Len()
}

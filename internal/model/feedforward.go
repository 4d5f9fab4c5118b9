package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"stencil/internal/dataset"
)

const (
	numClasses = 2
	leakySlope = 0.01
)

// layer addresses one weight matrix and bias vector inside the flat
// parameter array. Weights are row-major (out x in) at wOff, biases at
// bOff.
type layer struct {
	in, out    int
	wOff, bOff int
}

type feedforward struct {
	shape  dataset.Shape
	arch   Arch
	hp     Hyperparams
	layers []layer

	params   []float64
	velocity []float64
	grads    []float64

	// per-example scratch, reused across calls
	acts   [][]float64
	zs     [][]float64
	deltas [][]float64
}

func newFeedforward(shape dataset.Shape, arch Arch, hp Hyperparams, seed int64) *feedforward {
	sizes := make([]int, 0, len(arch.Hidden)+2)
	sizes = append(sizes, shape.Elements())
	sizes = append(sizes, arch.Hidden...)
	sizes = append(sizes, numClasses)

	f := &feedforward{
		shape: shape,
		arch:  Arch{Hidden: append([]int(nil), arch.Hidden...)},
		hp:    hp,
	}
	total := 0
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		f.layers = append(f.layers, layer{in: in, out: out, wOff: total, bOff: total + in*out})
		total += in*out + out
	}
	f.params = make([]float64, total)
	f.velocity = make([]float64, total)
	f.grads = make([]float64, total)

	f.acts = make([][]float64, len(f.layers)+1)
	f.acts[0] = make([]float64, sizes[0])
	f.zs = make([][]float64, len(f.layers))
	f.deltas = make([][]float64, len(f.layers))
	for l, ly := range f.layers {
		f.acts[l+1] = make([]float64, ly.out)
		f.zs[l] = make([]float64, ly.out)
		f.deltas[l] = make([]float64, ly.out)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, ly := range f.layers {
		limit := 1 / math.Sqrt(float64(ly.in))
		for i := 0; i < ly.in*ly.out; i++ {
			f.params[ly.wOff+i] = (rng.Float64()*2 - 1) * limit
		}
	}
	return f
}

func (f *feedforward) checkBatch(batch dataset.Minibatch) error {
	if batch.N < 1 {
		return errors.New("empty batch")
	}
	per := f.shape.Elements()
	if len(batch.Images) != batch.N*per {
		return fmt.Errorf("batch holds %d values, want %d for %d examples", len(batch.Images), batch.N*per, batch.N)
	}
	if len(batch.Labels) != batch.N {
		return fmt.Errorf("batch holds %d labels for %d examples", len(batch.Labels), batch.N)
	}
	for i, label := range batch.Labels {
		if label < 0 || label >= numClasses {
			return fmt.Errorf("label %d at batch index %d is outside [0,%d)", label, i, numClasses)
		}
	}
	return nil
}

// forward fills the activation scratch for one example and returns the
// output logits.
func (f *feedforward) forward(x []float32) []float64 {
	in := f.acts[0]
	for i, v := range x {
		in[i] = float64(v)
	}
	last := len(f.layers) - 1
	for l, ly := range f.layers {
		src := f.acts[l]
		z := f.zs[l]
		for o := 0; o < ly.out; o++ {
			sum := f.params[ly.bOff+o]
			row := f.params[ly.wOff+o*ly.in : ly.wOff+(o+1)*ly.in]
			for i, w := range row {
				sum += w * src[i]
			}
			z[o] = sum
		}
		if l == last {
			break
		}
		dst := f.acts[l+1]
		for o, v := range z {
			if v < 0 {
				v *= leakySlope
			}
			dst[o] = v
		}
	}
	return f.zs[last]
}

// backward accumulates the gradient contribution of one example into
// f.grads. It expects the scratch state left behind by forward and the
// example's log-sum-exp of the output logits.
func (f *feedforward) backward(label int, lse float64) {
	last := len(f.layers) - 1
	out := f.deltas[last]
	for o, z := range f.zs[last] {
		out[o] = math.Exp(z - lse)
	}
	out[label] -= 1

	for l := last; l >= 0; l-- {
		ly := f.layers[l]
		delta := f.deltas[l]
		src := f.acts[l]
		for o := 0; o < ly.out; o++ {
			d := delta[o]
			row := f.grads[ly.wOff+o*ly.in : ly.wOff+(o+1)*ly.in]
			for i, a := range src {
				row[i] += d * a
			}
			f.grads[ly.bOff+o] += d
		}
		if l == 0 {
			continue
		}
		prev := f.deltas[l-1]
		for i := range prev {
			sum := 0.0
			for o := 0; o < ly.out; o++ {
				sum += f.params[ly.wOff+o*ly.in+i] * delta[o]
			}
			if f.zs[l-1][i] < 0 {
				sum *= leakySlope
			}
			prev[i] = sum
		}
	}
}

func (f *feedforward) Step(batch dataset.Minibatch) (float64, error) {
	if err := f.checkBatch(batch); err != nil {
		return 0, err
	}
	for i := range f.grads {
		f.grads[i] = 0
	}
	per := f.shape.Elements()
	total := 0.0
	for n := 0; n < batch.N; n++ {
		z := f.forward(batch.Images[n*per : (n+1)*per])
		label := int(batch.Labels[n])
		lse := logSumExp(z)
		total += lse - z[label]
		f.backward(label, lse)
	}
	invN := 1 / float64(batch.N)
	for i := range f.params {
		f.velocity[i] = f.hp.Momentum*f.velocity[i] - f.hp.LearningRate*f.grads[i]*invN
		f.params[i] += f.velocity[i]
	}
	return total * invN, nil
}

func (f *feedforward) Evaluate(batch dataset.Minibatch) (Eval, error) {
	if err := f.checkBatch(batch); err != nil {
		return Eval{}, err
	}
	per := f.shape.Elements()
	total := 0.0
	correct := 0
	for n := 0; n < batch.N; n++ {
		z := f.forward(batch.Images[n*per : (n+1)*per])
		label := int(batch.Labels[n])
		total += logSumExp(z) - z[label]
		if argmax(z) == label {
			correct++
		}
	}
	invN := 1 / float64(batch.N)
	return Eval{Loss: total * invN, Accuracy: float64(correct) * invN}, nil
}

func (f *feedforward) Snapshot() *State {
	return &State{
		Shape:    f.shape,
		Arch:     Arch{Hidden: append([]int(nil), f.arch.Hidden...)},
		Params:   append([]float64(nil), f.params...),
		Velocity: append([]float64(nil), f.velocity...),
	}
}

func (f *feedforward) Restore(state *State) error {
	if state == nil {
		return errors.New("nil model state")
	}
	if state.Shape != f.shape {
		return fmt.Errorf("state shape %dx%dx%d does not match model %dx%dx%d",
			state.Shape.Channels, state.Shape.Height, state.Shape.Width,
			f.shape.Channels, f.shape.Height, f.shape.Width)
	}
	if !state.Arch.equal(f.arch) {
		return fmt.Errorf("state architecture %s does not match model %s", state.Arch, f.arch)
	}
	if len(state.Params) != len(f.params) {
		return fmt.Errorf("state holds %d parameters, model has %d", len(state.Params), len(f.params))
	}
	if len(state.Velocity) != len(f.velocity) {
		return fmt.Errorf("state holds %d velocity values, model has %d", len(state.Velocity), len(f.velocity))
	}
	copy(f.params, state.Params)
	copy(f.velocity, state.Velocity)
	return nil
}

func logSumExp(z []float64) float64 {
	max := z[0]
	for _, v := range z[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range z {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

func argmax(z []float64) int {
	best := 0
	for i, v := range z {
		if v > z[best] {
			best = i
		}
	}
	return best
}

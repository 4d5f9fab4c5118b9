package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sbinet/npyio"

	"stencil/internal/fileutil"
	"stencil/internal/staging"
)

// FormatVersion identifies the artifact layout. Load refuses other
// versions.
const FormatVersion = 1

// MetadataFileName is the metadata record inside a dataset directory.
const MetadataFileName = "metadata.json"

// Metadata is the JSON record describing a dataset artifact.
type Metadata struct {
	Version    int           `json:"version"`
	Shape      Shape         `json:"shape"`
	Seed       int64         `json:"seed"`
	Fractions  Fractions     `json:"fractions"`
	Train      PartitionMeta `json:"train"`
	Validation PartitionMeta `json:"validation"`
	Test       PartitionMeta `json:"test"`
	SourceDirs []string      `json:"source_dirs,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PartitionMeta describes one partition: its size, class balance, and the
// source IDs it holds, in storage order.
type PartitionMeta struct {
	Count   int      `json:"count"`
	Balance Balance  `json:"balance"`
	Sources []string `json:"sources"`
}

func imagesFileName(part string) string { return part + "_images.npy" }
func labelsFileName(part string) string { return part + "_labels.npy" }

// ArtifactFileNames lists the files of a dataset directory in display
// order.
func ArtifactFileNames() []string {
	names := make([]string, 0, 7)
	for _, part := range []string{"train", "validation", "test"} {
		names = append(names, imagesFileName(part), labelsFileName(part))
	}
	return append(names, MetadataFileName)
}

// Write persists the dataset to dir. The artifact is assembled in a
// staging directory and promoted with a single rename, so a failure
// leaves no partial artifact. An existing artifact is replaced only when
// overwrite is set.
func (d *Dataset) Write(dir string, overwrite bool) error {
	staged, err := staging.NewDir(dir)
	if err != nil {
		return err
	}
	defer staging.Discard(staged)

	for _, part := range d.Partitions() {
		if err := writeArray(filepath.Join(staged, imagesFileName(part.Name)), part.Images); err != nil {
			return err
		}
		if err := writeArray(filepath.Join(staged, labelsFileName(part.Name)), part.Labels); err != nil {
			return err
		}
	}

	meta := Metadata{
		Version:    FormatVersion,
		Shape:      d.Shape,
		Seed:       d.Seed,
		Fractions:  d.Fractions,
		Train:      partitionMeta(&d.Train),
		Validation: partitionMeta(&d.Validation),
		Test:       partitionMeta(&d.Test),
		SourceDirs: d.SourceDirs,
		CreatedAt:  d.CreatedAt,
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(staged, MetadataFileName), append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return staging.Promote(staged, dir, overwrite)
}

func partitionMeta(p *Partition) PartitionMeta {
	return PartitionMeta{Count: p.Len(), Balance: p.Balance(), Sources: p.Sources}
}

// ReadMetadata reads and validates the metadata record of the artifact at
// dir without loading the arrays.
func ReadMetadata(dir string) (*Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrIO, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse metadata: %v", ErrDataset, err)
	}
	if meta.Version != FormatVersion {
		return nil, fmt.Errorf("%w: artifact format version %d, want %d (rebuild the dataset)", ErrDataset, meta.Version, FormatVersion)
	}
	if !meta.Shape.valid() {
		return nil, fmt.Errorf("%w: degenerate image shape %dx%dx%d in metadata",
			ErrDataset, meta.Shape.Channels, meta.Shape.Height, meta.Shape.Width)
	}
	return &meta, nil
}

// Load reads the artifact at dir back into memory, verifying that array
// lengths agree with the metadata. The returned dataset is read-only.
func Load(dir string) (*Dataset, error) {
	meta, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Shape:      meta.Shape,
		Seed:       meta.Seed,
		Fractions:  meta.Fractions,
		SourceDirs: meta.SourceDirs,
		CreatedAt:  meta.CreatedAt,
	}
	for _, load := range []struct {
		part *Partition
		name string
		meta PartitionMeta
	}{
		{&ds.Train, "train", meta.Train},
		{&ds.Validation, "validation", meta.Validation},
		{&ds.Test, "test", meta.Test},
	} {
		p, err := loadPartition(dir, load.name, load.meta, meta.Shape)
		if err != nil {
			return nil, err
		}
		*load.part = p
	}
	return ds, nil
}

func loadPartition(dir, name string, meta PartitionMeta, shape Shape) (Partition, error) {
	images, err := readFloat32Array(filepath.Join(dir, imagesFileName(name)))
	if err != nil {
		return Partition{}, err
	}
	labels, err := readInt32Array(filepath.Join(dir, labelsFileName(name)))
	if err != nil {
		return Partition{}, err
	}
	if len(labels) != meta.Count {
		return Partition{}, fmt.Errorf("%w: %s holds %d labels, metadata says %d", ErrDataset, name, len(labels), meta.Count)
	}
	if len(images) != meta.Count*shape.Elements() {
		return Partition{}, fmt.Errorf("%w: %s holds %d image values, want %d", ErrDataset, name, len(images), meta.Count*shape.Elements())
	}
	if len(meta.Sources) != meta.Count {
		return Partition{}, fmt.Errorf("%w: %s lists %d sources, metadata count is %d", ErrDataset, name, len(meta.Sources), meta.Count)
	}
	return Partition{Name: name, Shape: shape, Images: images, Labels: labels, Sources: meta.Sources}, nil
}

func writeArray(path string, data any) error {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, data); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readFloat32Array(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, filepath.Base(path), err)
	}
	defer f.Close()
	var data []float32
	if err := npyio.Read(f, &data); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, filepath.Base(path), err)
	}
	return data, nil
}

func readInt32Array(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, filepath.Base(path), err)
	}
	defer f.Close()
	var data []int32
	if err := npyio.Read(f, &data); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, filepath.Base(path), err)
	}
	return data, nil
}

// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package mnist provides the MNIST database of handwritten digits as a
// benchmarks.Source, and the classic continual-learning benchmarks built on
// it: SplitMNIST and PermutedMNIST.
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"

	"github.com/alexsosn/avalanche/benchmarks"
)

const (
	downloadURL         = "https://storage.googleapis.com/cvdf-datasets/mnist"
	trainImagesFilename = "train-images-idx3-ubyte.gz"
	trainLabelsFilename = "train-labels-idx1-ubyte.gz"
	testImagesFilename  = "t10k-images-idx3-ubyte.gz"
	testLabelsFilename  = "t10k-labels-idx1-ubyte.gz"

	// Width and Height of every MNIST image, in pixels.
	Width  = 28
	Height = 28

	// NumClasses is the number of digit classes.
	NumClasses = 10

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// Download fetches the four MNIST IDX files into baseDir, if not yet there.
func Download(baseDir string) error {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if !data.FileExists(baseDir) {
		if err := os.MkdirAll(baseDir, 0777); err != nil {
			return errors.Wrapf(err, "creating data directory %q", baseDir)
		}
	}
	files := []string{trainImagesFilename, trainLabelsFilename, testImagesFilename, testLabelsFilename}
	for _, file := range files {
		fileURL, _ := url.JoinPath(downloadURL, file)
		filePath := path.Join(baseDir, file)
		if err := data.DownloadIfMissing(fileURL, filePath, ""); err != nil {
			return errors.WithMessagef(err, "downloading %q", file)
		}
	}
	return nil
}

// Images holds a split of MNIST in memory and implements benchmarks.Source.
// Inputs are yielded shaped [28, 28, 1], scaled to [0, 1].
type Images struct {
	pixels []byte // len = n * Width * Height
	labels []int8
}

var _ benchmarks.Source = (*Images)(nil)

// Len implements benchmarks.Source.
func (m *Images) Len() int { return len(m.labels) }

// Label implements benchmarks.Source: the digit of example i, 0 to 9.
func (m *Images) Label(i int) int32 { return int32(m.labels[i]) }

// InputDims implements benchmarks.Source.
func (m *Images) InputDims() []int { return []int{Height, Width, 1} }

// CopyInput implements benchmarks.Source.
func (m *Images) CopyInput(i int, dst []float32) {
	img := m.pixels[i*Width*Height : (i+1)*Width*Height]
	for j, b := range img {
		dst[j] = float32(b) / 255
	}
}

// pixel returns the j-th pixel (row-major) of example i.
func (m *Images) pixel(i, j int) byte {
	return m.pixels[i*Width*Height+j]
}

// Load parses the previously downloaded IDX files from baseDir and returns
// the train (60000 examples) and test (10000 examples) splits.
func Load(baseDir string) (trainImages, testImages *Images, err error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	trainImages, err = loadSplit(baseDir, trainImagesFilename, trainLabelsFilename)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "loading MNIST train split")
	}
	testImages, err = loadSplit(baseDir, testImagesFilename, testLabelsFilename)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "loading MNIST test split")
	}
	return
}

func loadSplit(baseDir, imagesFile, labelsFile string) (*Images, error) {
	pixels, err := loadImageFile(path.Join(baseDir, imagesFile))
	if err != nil {
		return nil, err
	}
	labels, err := loadLabelFile(path.Join(baseDir, labelsFile))
	if err != nil {
		return nil, err
	}
	if len(pixels) != len(labels)*Width*Height {
		return nil, errors.Errorf("mnist: %d images but %d labels", len(pixels)/(Width*Height), len(labels))
	}
	return &Images{pixels: pixels, labels: labels}, nil
}

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

func loadImageFile(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "os.Open")
	}
	defer f.Close()
	reader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "gzip.NewReader")
	}
	defer reader.Close()

	var header imageFileHeader
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %q", filename)
	}
	if header.Magic != imageMagic || header.Width != Width || header.Height != Height {
		return nil, errors.Errorf("mnist: %q is not a valid image file", filename)
	}

	pixels := make([]byte, int(header.NumImages)*Width*Height)
	if _, err := io.ReadFull(reader, pixels); err != nil {
		return nil, errors.Wrapf(err, "reading %d images from %q", header.NumImages, filename)
	}
	return pixels, nil
}

func loadLabelFile(filename string) ([]int8, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "os.Open")
	}
	defer f.Close()
	reader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "gzip.NewReader")
	}
	defer reader.Close()

	var header labelFileHeader
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %q", filename)
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("mnist: %q is not a valid label file", filename)
	}

	labels := make([]int8, header.NumLabels)
	if err := binary.Read(reader, binary.BigEndian, &labels); err != nil {
		return nil, errors.Wrapf(err, "reading %d labels from %q", header.NumLabels, filename)
	}
	return labels, nil
}

package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"github.com/tsawler/go-emotion/training"
	"gonum.org/v1/gonum/mat"
)

// DefaultImageSize is the side length images are resized to
const DefaultImageSize = 48

// GrayscaleLoader decodes PNG or JPEG images into flattened grayscale pixel
// rows in [0, 1], resized to Size x Size with nearest-neighbour sampling
type GrayscaleLoader struct {
	Size  int
	Cache *Cache // Optional; decoded images are reused by path
}

// NewGrayscaleLoader creates a loader for square images of the given size
func NewGrayscaleLoader(size int) *GrayscaleLoader {
	if size <= 0 {
		size = DefaultImageSize
	}
	return &GrayscaleLoader{Size: size}
}

// Features returns the length of one decoded image row
func (l *GrayscaleLoader) Features() int {
	return l.Size * l.Size
}

// Decode reads one image and returns its Size*Size pixels in row-major order
func (l *GrayscaleLoader) Decode(reader io.Reader) ([]float64, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	scaleX := float64(width) / float64(l.Size)
	scaleY := float64(height) / float64(l.Size)

	data := make([]float64, l.Size*l.Size)
	for y := 0; y < l.Size; y++ {
		for x := 0; x < l.Size; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)
			if srcX >= width {
				srcX = width - 1
			}
			if srcY >= height {
				srcY = height - 1
			}

			gray := color.Gray16Model.Convert(img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY)).(color.Gray16)
			data[y*l.Size+x] = float64(gray.Y) / 65535.0
		}
	}
	return data, nil
}

// Load decodes the image at path, consulting the cache when one is set
func (l *GrayscaleLoader) Load(path string) ([]float64, error) {
	if l.Cache != nil {
		if data, ok := l.Cache.Get(path); ok {
			return data, nil
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := l.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if l.Cache != nil {
		l.Cache.Put(path, data)
	}
	return data, nil
}

// LoadBatch decodes images concurrently. Results keep the order of paths;
// the first failure by index is returned.
func (l *GrayscaleLoader) LoadBatch(paths []string, maxWorkers int) ([][]float64, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([][]float64, len(paths))
	errs := make([]error, len(paths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(paths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index], errs[j.index] = l.Load(j.path)
			}
		}()
	}

	for i, path := range paths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d: %w", i, err)
		}
	}
	return results, nil
}

// LoadSplit decodes every image into a feature matrix paired with labels
func (l *GrayscaleLoader) LoadSplit(paths []string, labels []int, maxWorkers int) (training.Split, error) {
	if len(paths) != len(labels) {
		return training.Split{}, fmt.Errorf("%d paths but %d labels", len(paths), len(labels))
	}
	if len(paths) == 0 {
		return training.Split{}, fmt.Errorf("no images to load")
	}

	rows, err := l.LoadBatch(paths, maxWorkers)
	if err != nil {
		return training.Split{}, err
	}

	features := mat.NewDense(len(rows), l.Features(), nil)
	for i, row := range rows {
		features.SetRow(i, row)
	}
	return training.NewSplit(features, append([]int(nil), labels...))
}

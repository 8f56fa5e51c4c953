package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/go-emotion/training"
)

// createTestDataset creates a temporary class-per-directory tree
func createTestDataset(t *testing.T, classes []string, imagesPerClass int) string {
	t.Helper()
	tempDir := t.TempDir()

	for _, className := range classes {
		classDir := filepath.Join(tempDir, className)
		if err := os.MkdirAll(classDir, 0755); err != nil {
			t.Fatalf("Failed to create class directory %s: %v", classDir, err)
		}

		for i := 0; i < imagesPerClass; i++ {
			imagePath := filepath.Join(classDir, fmt.Sprintf("image_%d.png", i))
			if err := os.WriteFile(imagePath, []byte("mock image content"), 0644); err != nil {
				t.Fatalf("Failed to create mock image %s: %v", imagePath, err)
			}
		}
	}

	return tempDir
}

func TestNewImageFolderDataset(t *testing.T) {
	t.Run("ValidDataset", func(t *testing.T) {
		tempDir := createTestDataset(t, []string{"happy", "focused", "surprised"}, 3)

		dataset, err := NewImageFolderDataset(tempDir, nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if dataset.Len() != 9 {
			t.Errorf("Expected 9 images, got %d", dataset.Len())
		}
		if dataset.NumClasses() != 4 {
			t.Errorf("Expected the 4 emotion classes, got %d", dataset.NumClasses())
		}

		for i := 0; i < dataset.Len(); i++ {
			path, label, err := dataset.GetItem(i)
			if err != nil {
				t.Fatal(err)
			}
			name, _ := training.DefaultLabelMap().Name(label)
			if filepath.Base(filepath.Dir(path)) != name {
				t.Errorf("%s labelled %s", path, name)
			}
		}

		dist := dataset.ClassDistribution()
		if dist["happy"] != 3 || dist["neutral"] != 0 {
			t.Errorf("unexpected distribution %v", dist)
		}
	})

	t.Run("ExtensionFilter", func(t *testing.T) {
		tempDir := createTestDataset(t, []string{"neutral"}, 2)
		os.WriteFile(filepath.Join(tempDir, "neutral", "notes.txt"), []byte("x"), 0644)
		os.WriteFile(filepath.Join(tempDir, "neutral", "photo.JPG"), []byte("x"), 0644)

		dataset, err := NewImageFolderDataset(tempDir, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if dataset.Len() != 3 {
			t.Errorf("Expected 3 images, got %d", dataset.Len())
		}
	})

	t.Run("UnknownClass", func(t *testing.T) {
		tempDir := createTestDataset(t, []string{"happy", "angry"}, 1)
		if _, err := NewImageFolderDataset(tempDir, nil, nil); err == nil {
			t.Error("Expected error for unknown class directory")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		tempDir := createTestDataset(t, []string{"happy"}, 0)
		if _, err := NewImageFolderDataset(tempDir, nil, nil); err == nil {
			t.Error("Expected error for empty dataset")
		}
	})

	t.Run("MissingRoot", func(t *testing.T) {
		if _, err := NewImageFolderDataset(filepath.Join(t.TempDir(), "absent"), nil, nil); err == nil {
			t.Error("Expected error for missing root")
		}
	})
}

func TestImageFolderMetadata(t *testing.T) {
	tempDir := createTestDataset(t, []string{"happy", "neutral"}, 2)
	metadata := "file,age,gender\n" +
		"happy/image_0.png,young,female\n" +
		"happy/image_1.png,old,male\n" +
		"neutral/image_0.png,young,male\n" +
		"neutral/image_1.png,middle,female\n"
	if err := os.WriteFile(filepath.Join(tempDir, MetadataFile), []byte(metadata), 0644); err != nil {
		t.Fatal(err)
	}

	dataset, err := NewImageFolderDataset(tempDir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !dataset.HasAttribute("age") || !dataset.HasAttribute("gender") {
		t.Fatal("Expected age and gender on every image")
	}
	if dataset.HasAttribute("ethnicity") {
		t.Error("Unexpected attribute reported")
	}

	for i := 0; i < dataset.Len(); i++ {
		path, _, _ := dataset.GetItem(i)
		attrs := dataset.Attributes(i)
		if strings.HasSuffix(path, filepath.Join("happy", "image_1.png")) && attrs["age"] != "old" {
			t.Errorf("%s: age %q, expected old", path, attrs["age"])
		}
	}

	subset := dataset.Subset([]int{3, 0})
	if subset.Len() != 2 || subset.Attributes(0)["gender"] != dataset.Attributes(3)["gender"] {
		t.Error("Subset lost attributes")
	}
	if dataset.Attributes(99) != nil {
		t.Error("Expected nil attributes out of range")
	}
}

func TestImageFolderWithoutMetadata(t *testing.T) {
	dataset, err := NewImageFolderDataset(createTestDataset(t, []string{"happy"}, 2), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dataset.HasAttribute("age") {
		t.Error("Expected no attributes without metadata.csv")
	}
	if dataset.Attributes(0) != nil {
		t.Error("Expected nil attributes")
	}
}

func TestImageFolderMetadataWithoutFileColumn(t *testing.T) {
	tempDir := createTestDataset(t, []string{"happy"}, 1)
	os.WriteFile(filepath.Join(tempDir, MetadataFile), []byte("name,age\nx,young\n"), 0644)
	if _, err := NewImageFolderDataset(tempDir, nil, nil); err == nil {
		t.Error("Expected error for metadata without file column")
	}
}

func TestImageFolderDatasetGetItemBounds(t *testing.T) {
	dataset, err := NewImageFolderDataset(createTestDataset(t, []string{"happy"}, 1), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range []int{-1, 1} {
		if _, _, err := dataset.GetItem(idx); err == nil {
			t.Errorf("Expected error for index %d", idx)
		}
	}
}

func TestImageFolderDatasetString(t *testing.T) {
	dataset, err := NewImageFolderDataset(createTestDataset(t, []string{"happy", "focused"}, 2), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := dataset.String()
	for _, want := range []string{"4 samples", "happy: 2 samples", "neutral: 0 samples"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

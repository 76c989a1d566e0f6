package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/imaging"
)

// Skipped is a file left out of the submission
type Skipped struct {
	Name   string
	Reason string
}

// CollectImages scans dir for supported images sorted by name, keeps the ones that
// decode and caps the result at domain.MaxInputImages
func CollectImages(dir string) ([]File, []Skipped, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("directory %s does not exist", dir)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && imaging.HasSupportedExtension(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var files []File
	var skipped []Skipped
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			skipped = append(skipped, Skipped{Name: name, Reason: err.Error()})
			continue
		}
		if _, err := imaging.Decode(name, data); err != nil {
			skipped = append(skipped, Skipped{Name: name, Reason: err.Error()})
			continue
		}
		if len(files) == domain.MaxInputImages {
			skipped = append(skipped, Skipped{Name: name, Reason: fmt.Sprintf("limit of %d images reached", domain.MaxInputImages)})
			continue
		}
		files = append(files, File{Name: name, Data: data})
	}

	return files, skipped, nil
}

package cli

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dunamismax/kronos/internal/domain"
)

// loadPrepSpec reads a YAML step file. An empty path yields an empty spec,
// which exports the decoded image unchanged with raw 0..255 values.
func loadPrepSpec(path string) (domain.PrepSpec, error) {
	if strings.TrimSpace(path) == "" {
		return domain.PrepSpec{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PrepSpec{}, fmt.Errorf("read steps file: %w", err)
	}

	var spec domain.PrepSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return domain.PrepSpec{}, fmt.Errorf("parse steps file %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return domain.PrepSpec{}, fmt.Errorf("steps file %s: %w", path, err)
	}
	return spec, nil
}

// loadManifest reads "path,label" rows. A leading header row naming the
// path column is skipped and relative paths resolve against the manifest's
// directory.
func loadManifest(path string) ([]domain.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	samples := make([]domain.Sample, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "path") {
			continue
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			return nil, fmt.Errorf("manifest %s line %d: path is required", path, i+1)
		}
		if len(rec) > 2 {
			return nil, fmt.Errorf("manifest %s line %d: expected path,label but got %d fields", path, i+1, len(rec))
		}

		samplePath := strings.TrimSpace(rec[0])
		if !filepath.IsAbs(samplePath) {
			samplePath = filepath.Join(base, samplePath)
		}
		label := ""
		if len(rec) == 2 {
			label = strings.TrimSpace(rec[1])
		}
		samples = append(samples, domain.Sample{ObjectKey: samplePath, Label: label})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("manifest %s has no samples", path)
	}
	return samples, nil
}

package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/mitchellh/go-homedir"
	"github.com/turbot/pipe-fittings/utils"
	"golang.org/x/exp/maps"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/types"
)

const (
	// ManifestFileName is the manifest file looked for when the parser is given a directory
	ManifestFileName = "manifest.json"
	// ParsedDatasetFileName is the file the parsed dataset is dumped to
	ParsedDatasetFileName = "parsed_dataset.json"

	// discardedClassId is the class assigned to every object when classes are discarded
	discardedClassId int32 = 1
)

// Dataset is a parsed dataset - the ordered entries of each split and the class map used to label them
type Dataset struct {
	Classes map[string]int32         `json:"classes"`
	Splits  map[string][]types.Entry `json:"splits"`
}

// Split returns the entries of a split, or nil if the dataset does not have it
func (d *Dataset) Split(name string) []types.Entry {
	return d.Splits[name]
}

// SplitNames returns the names of the splits in the dataset, train first
func (d *Dataset) SplitNames() []string {
	names := maps.Keys(d.Splits)
	slices.SortFunc(names, func(a, b string) int {
		return splitRank(a) - splitRank(b)
	})
	return names
}

func splitRank(name string) int {
	switch name {
	case constants.RunModeTrain:
		return 0
	case constants.RunModeVal:
		return 1
	default:
		return 2
	}
}

type ParserOption func(*ManifestParser)

// WithSkipAmbiguous drops objects marked as ambiguous
func WithSkipAmbiguous(skip bool) ParserOption {
	return func(p *ManifestParser) {
		p.skipAmbiguous = skip
	}
}

// WithDiscardClasses assigns every object class id 1
func WithDiscardClasses(discard bool) ParserOption {
	return func(p *ManifestParser) {
		p.discardClasses = discard
	}
}

// WithOnlyVal parses the val split only
func WithOnlyVal(onlyVal bool) ParserOption {
	return func(p *ManifestParser) {
		p.onlyVal = onlyVal
	}
}

// ManifestParser parses a JSON dataset manifest into ordered entries per split
// Image paths in the manifest are relative to the manifest directory unless absolute
type ManifestParser struct {
	path           string
	skipAmbiguous  bool
	discardClasses bool
	onlyVal        bool
}

// NewManifestParser creates a parser for the manifest at path
// if path is a directory, the manifest is expected at path/manifest.json
func NewManifestParser(path string, opts ...ParserOption) (*ManifestParser, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read dataset manifest: %w", err)
	} else if info.IsDir() {
		path = filepath.Join(path, ManifestFileName)
	}

	p := &ManifestParser{path: path}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Parse reads the manifest and builds the entries of each split, preserving manifest order
func (p *ManifestParser) Parse(ctx context.Context) (*Dataset, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse dataset manifest %s: %w", p.path, err)
	}
	if len(m.Splits) == 0 {
		return nil, fmt.Errorf("dataset manifest %s has no splits", p.path)
	}

	classes := m.Classes
	if p.discardClasses {
		classes = map[string]int32{"object": discardedClassId}
	} else if len(classes) == 0 {
		classes = classesFromLabels(&m)
	}

	res := &Dataset{
		Classes: classes,
		Splits:  make(map[string][]types.Entry),
	}
	baseDir := filepath.Dir(p.path)
	for name, records := range m.Splits {
		if p.onlyVal && name != constants.RunModeVal {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, ambiguous, err := p.buildEntries(records, classes, baseDir)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", name, err)
		}
		res.Splits[name] = entries
		slog.Info(fmt.Sprintf("Parsed %d %s for %s split", len(entries), utils.Pluralize("image", len(entries)), name),
			"skipped_ambiguous_objects", ambiguous)
	}
	if p.onlyVal && len(res.Splits) == 0 {
		return nil, fmt.Errorf("dataset manifest %s has no %s split", p.path, constants.RunModeVal)
	}
	return res, nil
}

func (p *ManifestParser) buildEntries(records []imageRecord, classes map[string]int32, baseDir string) ([]types.Entry, int, error) {
	entries := make([]types.Entry, 0, len(records))
	ambiguous := 0
	for _, r := range records {
		if r.Id == "" {
			return nil, 0, fmt.Errorf("image %s has no image_id", r.Image)
		}
		imagePath := r.Image
		if imagePath != "" && !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(baseDir, imagePath)
		}
		entry := types.Entry{
			Id:        r.Id,
			ImagePath: imagePath,
			Height:    r.Height,
			Width:     r.Width,
			Boxes:     make([]types.Box, 0, len(r.Objects)),
			Classes:   make([]int32, 0, len(r.Objects)),
		}
		for _, o := range r.Objects {
			if p.skipAmbiguous && o.Ambiguous {
				ambiguous++
				continue
			}
			classId := discardedClassId
			if !p.discardClasses {
				id, ok := classes[o.Label]
				if !ok {
					return nil, 0, fmt.Errorf("image %s: unknown class '%s'", r.Id, o.Label)
				}
				classId = id
			}
			entry.Boxes = append(entry.Boxes, o.Box)
			entry.Classes = append(entry.Classes, classId)
		}
		entries = append(entries, entry)
	}
	return entries, ambiguous, nil
}

// classesFromLabels assigns ids from 1 to every label used in the manifest, in sorted label order
func classesFromLabels(m *manifest) map[string]int32 {
	labels := make(map[string]struct{})
	for _, records := range m.Splits {
		for _, r := range records {
			for _, o := range r.Objects {
				labels[o.Label] = struct{}{}
			}
		}
	}
	names := maps.Keys(labels)
	slices.Sort(names)

	res := make(map[string]int32, len(names))
	for i, name := range names {
		res[name] = int32(i + 1)
	}
	return res
}

// Dump writes the parsed dataset as JSON to dir/parsed_dataset.json, returning the file path
func Dump(d *Dataset, dir string) (string, error) {
	dir, err := homedir.Expand(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ParsedDatasetFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to dump parsed dataset: %w", err)
	}
	slog.Info("Dumped parsed dataset", "path", path, "classes", len(d.Classes))
	return path, nil
}

// Package dataset loads the dataset configuration and the per-epoch file
// listing and joins them into the list of tags the pipeline runs over
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/validate"

	"gopkg.in/yaml.v2"
)

// Type is the process class of a dataset
type Type string

// Types
const (
	TypeData Type = "data"
	TypeMC   Type = "mc"
)

// ParseProcesses maps a "DATA,MC" style list to types
func ParseProcesses(list []string) ([]Type, error) {
	var out []Type
	seen := map[Type]bool{}
	for _, p := range list {
		var t Type
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "data":
			t = TypeData
		case "mc":
			t = TypeMC
		case "":
			continue
		default:
			return nil, perr.WithField(perr.Configf("unknown process %q (want DATA or MC)", p), "processes")
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, perr.WithField(perr.Configf("no processes selected"), "processes")
	}
	return out, nil
}

// entry is one tag in the datasets file
type entry struct {
	Tag   string   `yaml:"-" json:"-" validate:"required,ident"`
	Names []string `yaml:"names" json:"names" validate:"min=1,dive,required"`
	Type  string   `yaml:"type" json:"type" validate:"required,oneof=data mc"`
	GJSON string   `yaml:"gjson" json:"gjson" validate:"required_if=Type data"`
}

// Dataset is a resolved tag ready for processing
type Dataset struct {
	Tag        string   `json:"tag"`
	Names      []string `json:"names"`
	Type       Type     `json:"type"`
	GoldenJSON string   `json:"gjson,omitempty"`
	Files      []string `json:"files"`
}

// IsData reports whether golden filtering applies
func (d Dataset) IsData() bool { return d.Type == TypeData }

// Catalog is every configured dataset, sorted by tag
type Catalog struct {
	Datasets []Dataset
}

// Tags lists the tags in order
func (c *Catalog) Tags() []string {
	out := make([]string, len(c.Datasets))
	for i, d := range c.Datasets {
		out[i] = d.Tag
	}
	return out
}

// Get looks a dataset up by tag
func (c *Catalog) Get(tag string) (Dataset, bool) {
	for _, d := range c.Datasets {
		if d.Tag == tag {
			return d, true
		}
	}
	return Dataset{}, false
}

// Select keeps datasets of the given types; when tags is non-empty only those
// tags are kept and an unknown tag is a config error
func (c *Catalog) Select(types []Type, tags []string) ([]Dataset, error) {
	want := map[Type]bool{}
	for _, t := range types {
		want[t] = true
	}
	only := map[string]bool{}
	for _, t := range tags {
		if _, ok := c.Get(t); !ok {
			return nil, perr.WithField(perr.Configf("dataset %q not configured", t), "tags")
		}
		only[t] = true
	}
	var out []Dataset
	for _, d := range c.Datasets {
		if len(want) > 0 && !want[d.Type] {
			continue
		}
		if len(only) > 0 && !only[d.Tag] {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Load reads the datasets file and resolves every sample through the listing.
// listing is either one file mapping sample -> refs, or a directory holding
// <tag>.yaml (or .json) per dataset.
func Load(datasetsPath, listingPath string) (*Catalog, error) {
	raw, err := readYAML[map[string]entry](datasetsPath)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, perr.Configf("%s: no datasets configured", datasetsPath)
	}

	fi, err := os.Stat(listingPath)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "file listing %s", listingPath)
	}
	var shared map[string][]string
	if !fi.IsDir() {
		if shared, err = readYAML[map[string][]string](listingPath); err != nil {
			return nil, err
		}
	}

	tags := make([]string, 0, len(raw))
	for tag := range raw {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	cat := &Catalog{Datasets: make([]Dataset, 0, len(tags))}
	for _, tag := range tags {
		e := raw[tag]
		e.Tag = tag
		if err := validate.Struct(e, perr.ErrorCodeConfig); err != nil {
			return nil, perr.WithOp(err, perr.Op(datasetsPath, tag))
		}

		listing := shared
		src := listingPath
		if fi.IsDir() {
			if src, err = perTagListing(listingPath, tag); err != nil {
				return nil, err
			}
			if listing, err = readYAML[map[string][]string](src); err != nil {
				return nil, err
			}
		}

		d := Dataset{Tag: tag, Names: e.Names, Type: Type(e.Type), GoldenJSON: e.GJSON}
		for _, n := range e.Names {
			refs, ok := listing[n]
			if !ok {
				return nil, perr.WithOp(perr.WithField(perr.Configf("sample %q not in listing %s", n, src), "names"), tag)
			}
			for _, r := range refs {
				if strings.TrimSpace(r) == "" {
					return nil, perr.WithOp(perr.Configf("sample %q has an empty file reference", n), tag)
				}
			}
			d.Files = append(d.Files, refs...)
		}
		if len(d.Files) == 0 {
			return nil, perr.WithOp(perr.Configf("no input files"), tag)
		}
		cat.Datasets = append(cat.Datasets, d)
	}
	return cat, nil
}

func perTagListing(dir, tag string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		p := filepath.Join(dir, tag+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", perr.WithOp(perr.Configf("no listing for %s in %s", tag, dir), tag)
}

// readYAML decodes a YAML file, or JSON by extension; unknown keys are errors
func readYAML[T any](path string) (T, error) {
	var out T
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, perr.Wrapf(err, perr.ErrorCodeConfig, "%s missing", path)
		}
		return out, perr.Wrapf(err, perr.ErrorCodeConfig, "read %s", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&out)
	} else {
		err = yaml.UnmarshalStrict(b, &out)
	}
	if err != nil {
		return out, perr.Wrapf(err, perr.ErrorCodeConfig, "parse %s", path)
	}
	return out, nil
}

// Package codec derives the canonical local filename of a DRMS export record.
//
// A record descriptor has the form
//
//	<series>[<key1>][<key2>]...{<segment>[,<segment>...]}
//
// e.g. hmi.sharp_cea_720s[377][2011.02.15_00:00:00_TAI]{magnetogram}. The canonical
// filename joins the series, the primary keys (with the second one stripped of
// '.', ':' and '-'), one segment and "fits" with dots:
//
//	hmi.sharp_cea_720s.377.20110215_000000_TAI.magnetogram.fits
//
// This is the name the archive's as-is export gives the file, so comparing names is
// enough to tell whether an export row is already on disk.
package codec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedDescriptor is returned for descriptors that do not follow the
// series[keys]{segments} grammar.
var ErrMalformedDescriptor = errors.New("malformed record descriptor")

var (
	descriptorRegex = regexp.MustCompile(`^\s*([\w.]+)\s*((?:\[[^\[\]]*\])+)\s*\{([\w\s.,]*)\}\s*$`)
	pkeyRegex       = regexp.MustCompile(`\[([^\[\]]*)\]`)
	segSplitRegex   = regexp.MustCompile(`[\s,]+`)
	timeSeparators  = strings.NewReplacer(".", "", ":", "", "-", "")
)

// Descriptor is a parsed record descriptor.
type Descriptor struct {
	Series   string
	Keys     []string
	Segments []string
}

// ParseDescriptor parses s into its series, primary keys and segments.
func ParseDescriptor(s string) (Descriptor, error) {
	m := descriptorRegex.FindStringSubmatch(s)
	if m == nil {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
	}

	var keys []string
	for _, km := range pkeyRegex.FindAllStringSubmatch(m[2], -1) {
		keys = append(keys, km[1])
	}
	if len(keys) < 2 {
		return Descriptor{}, fmt.Errorf("%w: %q has %d primary keys, need at least 2", ErrMalformedDescriptor, s, len(keys))
	}

	var segs []string
	for _, seg := range segSplitRegex.Split(strings.TrimSpace(m[3]), -1) {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return Descriptor{}, fmt.Errorf("%w: %q names no segment", ErrMalformedDescriptor, s)
	}

	return Descriptor{Series: m[1], Keys: keys, Segments: segs}, nil
}

// Filenames returns one canonical filename per segment of d.
func (d Descriptor) Filenames() []string {
	keys := append([]string(nil), d.Keys...)
	keys[1] = timeSeparators.Replace(keys[1])

	out := make([]string, 0, len(d.Segments))
	for _, seg := range d.Segments {
		parts := make([]string, 0, len(keys)+3)
		parts = append(parts, d.Series)
		parts = append(parts, keys...)
		parts = append(parts, seg, "fits")
		out = append(out, strings.Join(parts, "."))
	}
	return out
}

// Filenames parses s and returns the canonical filename of each segment.
func Filenames(s string) ([]string, error) {
	d, err := ParseDescriptor(s)
	if err != nil {
		return nil, err
	}
	return d.Filenames(), nil
}

// Filename is Filenames for the single-segment descriptors an export returns per
// row. More than one segment is an error since a row maps to one file.
func Filename(s string) (string, error) {
	names, err := Filenames(s)
	if err != nil {
		return "", err
	}
	if len(names) != 1 {
		return "", fmt.Errorf("%w: %q names %d segments, expected 1", ErrMalformedDescriptor, s, len(names))
	}
	return names[0], nil
}

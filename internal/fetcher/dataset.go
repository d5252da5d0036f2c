package fetcher

import (
	"fmt"
	"path/filepath"
	"time"
)

// Cadence is the MDI recording cadence that both series are sampled at.
const Cadence = 96 * time.Minute

// Dataset holds everything that differs between the SHARP and SMARP variants.
type Dataset struct {
	Name         string // "sharp", "smarp"
	Series       string
	Quality      int // records must have QUALITY below this
	HeaderDir    string
	ImageDir     string
	HeaderPrefix string // "HARP", "TARP"
	ImagePrefix  string // "hmi", "mdi"
	Segment      string
	// Align keeps only header rows on the Cadence grid anchored at the first
	// record's day midnight.
	Align bool
}

// Sharp is the HMI SHARP CEA series, aligned to the MDI cadence.
func Sharp(headerDir, imageDir string) Dataset {
	return Dataset{
		Name:         "sharp",
		Series:       "hmi.sharp_cea_720s",
		Quality:      65536,
		HeaderDir:    headerDir,
		ImageDir:     imageDir,
		HeaderPrefix: "HARP",
		ImagePrefix:  "hmi",
		Segment:      "magnetogram",
		Align:        true,
	}
}

// Smarp is the MDI SMARP CEA series.
func Smarp(headerDir, imageDir string) Dataset {
	return Dataset{
		Name:         "smarp",
		Series:       "mdi.smarp_cea_96m",
		Quality:      262144,
		HeaderDir:    headerDir,
		ImageDir:     imageDir,
		HeaderPrefix: "TARP",
		ImagePrefix:  "mdi",
		Segment:      "magnetogram",
	}
}

// HeaderSelector selects every record of region id that passes the quality
// cut and is assigned to at least one NOAA active region.
func (d Dataset) HeaderSelector(id int) string {
	return fmt.Sprintf("%s[%d][][? (QUALITY<%d) ?][? (NOAA_NUM>=1) ?]", d.Series, id, d.Quality)
}

// ExportSelector selects the segment of region id between t1 and t2 (DRMS
// T_REC strings) at the MDI cadence.
func (d Dataset) ExportSelector(id int, t1, t2 string) string {
	return fmt.Sprintf("%s[%d][%s-%s@%dm][? (QUALITY<%d) ?]{%s}",
		d.Series, id, t1, t2, int(Cadence.Minutes()), d.Quality, d.Segment)
}

// HeaderPath is the Header Record Set file of region id.
func (d Dataset) HeaderPath(id int) string {
	return filepath.Join(d.HeaderDir, fmt.Sprintf("%s%06d_ATTRS.csv", d.HeaderPrefix, id))
}

// ImagePath is the image directory of region id.
func (d Dataset) ImagePath(id int) string {
	return filepath.Join(d.ImageDir, fmt.Sprintf("%06d", id))
}

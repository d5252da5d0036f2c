package fetcher

import "github.com/brensch/solarfetch/internal/table"

// HeaderStatus classifies one header fetch.
type HeaderStatus int

const (
	HeaderWritten    HeaderStatus = 0
	HeaderExists     HeaderStatus = 1
	HeaderNoRecords  HeaderStatus = 2
	HeaderNotAligned HeaderStatus = 3
)

func (s HeaderStatus) Code() int { return int(s) }

func (s HeaderStatus) String() string {
	switch s {
	case HeaderWritten:
		return "written"
	case HeaderExists:
		return "exists"
	case HeaderNoRecords:
		return "no_records"
	case HeaderNotAligned:
		return "not_aligned"
	default:
		return "unknown"
	}
}

// ImageStatus classifies one image fetch.
type ImageStatus int

const (
	ImagesAdded      ImageStatus = 0
	ImagesNoHeader   ImageStatus = 1
	ImagesNoRecords  ImageStatus = 2
	ImagesAllPresent ImageStatus = 3
)

func (s ImageStatus) Code() int { return int(s) }

func (s ImageStatus) String() string {
	switch s {
	case ImagesAdded:
		return "added"
	case ImagesNoHeader:
		return "no_header"
	case ImagesNoRecords:
		return "no_records"
	case ImagesAllPresent:
		return "all_present"
	default:
		return "unknown"
	}
}

// ImageOutcome is the result of an image fetch. Added holds the export rows
// that were downloaded and is only set when Status is ImagesAdded.
type ImageOutcome struct {
	Status ImageStatus
	Added  *table.Table
}

func (o ImageOutcome) Code() int { return int(o.Status) }

func (o ImageOutcome) String() string { return o.Status.String() }

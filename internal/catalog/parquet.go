package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/solarfetch/internal/table"
)

// WriteParquet writes the catalog to path as snappy-compressed Parquet. The
// region column is stored as INT64, everything else as UTF8. The file is built
// next to path and renamed into place.
func WriteParquet(path string, t *table.Table) error {
	region := t.ColumnIndex(ColRegion)
	meta := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if i == region {
			meta[i] = fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", c)
		} else {
			meta[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)
		}
	}

	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	defer os.Remove(tmpPath)

	fw, err := local.NewLocalFileWriter(tmpPath)
	if err != nil {
		return fmt.Errorf("create parquet %s: %w", tmpPath, err)
	}
	pw, err := writer.NewCSVWriter(meta, fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("init writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for n, row := range t.Rows {
		rec := make([]*string, len(meta))
		for j := range meta {
			if j >= len(row) || row[j] == "" {
				continue
			}
			v := row[j]
			if j == region {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					continue
				}
				v = strconv.FormatInt(int64(f), 10)
			}
			rec[j] = &v
		}
		if err := pw.WriteString(rec); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write row %d: %w", n, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("stop writer: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

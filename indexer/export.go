package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         int64  `parquet:"name=id, type=INT64"`
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Receipt    string `parquet:"name=receipt, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	CampaignID int64  `parquet:"name=campaign_id, type=INT64"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every event matching q to a parquet file at path and
// returns the number of rows written. q.Limit sets the page size used while
// reading the archive; q.AfterID is the starting cursor.
func (a *Archive) ExportParquet(ctx context.Context, path string, q Query) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("indexer: create export dir: %w", err)
		}
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		fw.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := q
	if page.Limit <= 0 || page.Limit > MaxLimit {
		page.Limit = MaxLimit
	}
	for {
		if err := ctx.Err(); err != nil {
			pw.WriteStop()
			fw.Close()
			return written, err
		}
		records, err := a.Query(ctx, page)
		if err != nil {
			pw.WriteStop()
			fw.Close()
			return written, err
		}
		for _, record := range records {
			row := &parquetRow{
				ID:         int64(record.ID),
				Sequence:   int64(record.Sequence),
				Receipt:    record.Receipt,
				Type:       record.Type,
				CampaignID: -1,
				Timestamp:  record.Timestamp,
				Attributes: record.Attributes,
			}
			if record.CampaignID != nil {
				row.CampaignID = int64(*record.CampaignID)
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				fw.Close()
				return written, fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
			page.AfterID = record.ID
		}
		if len(records) < page.Limit {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return written, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := fw.Close(); err != nil {
		return written, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}

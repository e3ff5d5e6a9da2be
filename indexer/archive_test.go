package indexer

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"charityledger/core/events"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	archive, err := Open("sqlite", filepath.Join(t.TempDir(), "events.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func event(kind string, seq uint64, campaign string) events.Event {
	attrs := map[string]string{
		"receipt":   "r" + strconv.FormatUint(seq, 10),
		"sequence":  strconv.FormatUint(seq, 10),
		"timestamp": "1000",
	}
	if campaign != "" {
		attrs["campaignId"] = campaign
	}
	return events.Event{Type: kind, Attributes: attrs}
}

func TestArchiveRecordsAndFilters(t *testing.T) {
	archive := openTestArchive(t)
	archive.Emit(event("donation.campaign.created", 1, "0"))
	archive.Emit(event("donation.campaign.contributed", 2, "0"))
	archive.Emit(event("donation.campaign.created", 3, "1"))
	archive.Emit(event("donation.fee.withdrawn", 4, ""))
	ctx := context.Background()

	all, err := archive.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, uint64(1), all[0].Sequence)
	require.Equal(t, "r1", all[0].Receipt)
	require.Equal(t, int64(1000), all[0].Timestamp)
	require.Nil(t, all[3].CampaignID)

	created, err := archive.Query(ctx, Query{Type: "donation.campaign.created"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	campaign := uint64(0)
	scoped, err := archive.Query(ctx, Query{CampaignID: &campaign})
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	require.Equal(t, "0", scoped[1].Attrs()["campaignId"])

	later, err := archive.Query(ctx, Query{AfterSequence: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, later, 1)
	require.Equal(t, uint64(3), later[0].Sequence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestExportParquetPagesThroughArchive(t *testing.T) {
	archive := openTestArchive(t)
	for seq := uint64(1); seq <= 7; seq++ {
		archive.Emit(event("donation.campaign.contributed", seq, "3"))
	}
	path := filepath.Join(t.TempDir(), "export", "events.parquet")

	written, err := archive.ExportParquet(context.Background(), path, Query{Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 7, written)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(7), pr.GetNumRows())

	rows := make([]parquetRow, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(1), rows[0].Sequence)
	require.Equal(t, int64(7), rows[6].Sequence)
	require.Equal(t, int64(3), rows[6].CampaignID)
}

package postgres

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

func testRows() []boxoffice.RankingRow {
	return []boxoffice.RankingRow{
		{MovieID: "rl1077904129", Title: "Barbie", DayOffset: 28, Observation: boxoffice.DailyObservation{Rank: 1, Revenue: 3875483}},
		{MovieID: "rl3120464385", Title: "Mutant Mayhem", DayOffset: 16, Observation: boxoffice.DailyObservation{Rank: 2, Revenue: 1711262}},
	}
}

func TestIndexSnapshotUpsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewRankingIndexWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ranking_rows").
		WithArgs("2023-08-17", "rl1077904129", 28, 1, int64(3875483), "Barbie").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(crawl_date, movie_id\\) DO UPDATE").
		WithArgs("2023-08-17", "rl3120464385", 16, 2, int64(1711262), "Mutant Mayhem").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = idx.IndexSnapshot(context.Background(), civil.Date{Year: 2023, Month: 8, Day: 17}, testRows())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexSnapshotRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewRankingIndexWithPool(mock, "rankings")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rankings").
		WithArgs("2023-08-17", "rl1077904129", 28, 1, int64(3875483), "Barbie").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err = idx.IndexSnapshot(context.Background(), civil.Date{Year: 2023, Month: 8, Day: 17}, testRows())
	require.ErrorContains(t, err, "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexSnapshotEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewRankingIndexWithPool(mock, "")
	require.NoError(t, err)
	require.NoError(t, idx.IndexSnapshot(context.Background(), civil.Date{Year: 2024, Month: 1, Day: 1}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewRankingIndexWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ranking_rows").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, idx.EnsureSchema(context.Background()))
	require.Error(t, idx.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRankingIndexValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRankingIndexWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRankingIndexWithPool(mock, "bad;table")
	require.Error(t, err)

	_, err = NewRankingIndex(context.Background(), Config{})
	require.Error(t, err)
}

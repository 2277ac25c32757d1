package writer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketfeed/internal/market"
	"github.com/rickgao/marketfeed/internal/model"
)

type fakeDB struct {
	mu      sync.Mutex
	execs   []string
	batches [][]*pgx.QueuedQuery
	fail    bool
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{fail: f.fail}
}

func (f *fakeDB) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeDB) batch(i int) []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

type fakeResults struct{ fail bool }

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.fail {
		return pgconn.CommandTag{}, errors.New("connection reset")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func mkt(id, price string) model.Market {
	return model.Market{
		Platform: model.PlatformPolymarket,
		ID:       id,
		Title:    "Market " + id,
		YesPrice: decimal.RequireFromString(price),
	}
}

func newTestWriter(t *testing.T, cfg WriterConfig) (*MarketWriter, *market.Store, *fakeDB, *clock.Mock) {
	t.Helper()
	store := market.NewStore(nil, nil)
	t.Cleanup(store.Close)
	db := &fakeDB{}
	mock := clock.NewMock()
	w := NewMarketWriter(cfg, store.Subscribe("postgres", 16), db, mock, nil, nil)
	return w, store, db, mock
}

func TestMarketWriter_Transform(t *testing.T) {
	end := time.Date(2025, 11, 4, 0, 0, 0, 0, time.FixedZone("EST", -5*3600))
	m := model.Market{
		Platform:  model.PlatformKalshi,
		ID:        "PRES-2024",
		Title:     "Who wins?",
		Category:  "politics",
		Status:    "open",
		YesPrice:  decimal.RequireFromString("0.52"),
		NoPrice:   decimal.RequireFromString("0.48"),
		Volume:    decimal.RequireFromString("125000.5"),
		Volume24h: decimal.Zero,
		Liquidity: decimal.RequireFromString("9000"),
		EndDate:   end,
		URL:       "https://example.com/pres",
	}

	row := transform(m)

	assert.Equal(t, "kalshi", row.Platform)
	assert.Equal(t, "PRES-2024", row.MarketID)
	assert.Equal(t, "0.52", row.YesPrice)
	assert.Equal(t, "0.48", row.NoPrice)
	assert.Equal(t, "125000.5", row.Volume)
	assert.Equal(t, "0", row.Volume24h)
	require.NotNil(t, row.EndDate)
	assert.Equal(t, time.UTC, row.EndDate.Location())
	assert.True(t, end.Equal(*row.EndDate))
	assert.Nil(t, row.UpdatedAt, "zero timestamps become NULL")
}

func TestMarketWriter_EnsureSchema(t *testing.T) {
	w, _, db, _ := newTestWriter(t, DefaultWriterConfig())

	require.NoError(t, w.EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS prediction_markets")
	assert.Contains(t, db.execs[0], "PRIMARY KEY (platform, market_id)")
}

func TestMarketWriter_CoalescesByKey(t *testing.T) {
	cfg := DefaultWriterConfig()
	w, store, db, mock := newTestWriter(t, cfg)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	store.SetMarkets([]model.Market{mkt("A", "0.10"), mkt("B", "0.20")})
	store.Upsert(mkt("A", "0.15"))

	require.Eventually(t, func() bool {
		return w.Stats().Coalesced == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, w.Pending())

	require.Eventually(t, func() bool {
		mock.Add(cfg.FlushInterval)
		return db.batchCount() == 1
	}, time.Second, 5*time.Millisecond)

	queries := db.batch(0)
	require.Len(t, queries, 2)
	assert.True(t, strings.Contains(queries[0].SQL, "ON CONFLICT (platform, market_id) DO UPDATE"))
	assert.Equal(t, "A", queries[0].Arguments[1])
	assert.Equal(t, "0.15", queries[0].Arguments[5], "latest record wins")
	assert.Equal(t, "B", queries[1].Arguments[1])

	assert.Equal(t, int64(2), w.Stats().Upserts)
	assert.Equal(t, 0, w.Pending())
}

func TestMarketWriter_FlushesAtBatchSize(t *testing.T) {
	cfg := DefaultWriterConfig()
	cfg.BatchSize = 2
	w, store, db, _ := newTestWriter(t, cfg)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	store.SetMarkets([]model.Market{mkt("A", "0.10"), mkt("B", "0.20"), mkt("C", "0.30")})

	require.Eventually(t, func() bool {
		return db.batchCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, db.batch(0), 3)
}

func TestMarketWriter_StopFlushesPending(t *testing.T) {
	w, store, db, _ := newTestWriter(t, DefaultWriterConfig())
	require.NoError(t, w.Start(context.Background()))

	store.Upsert(mkt("A", "0.10"))
	require.NoError(t, w.Stop(context.Background()))

	require.Equal(t, 1, db.batchCount())
	assert.Len(t, db.batch(0), 1)
}

func TestMarketWriter_FailedFlushRequeues(t *testing.T) {
	w, store, db, _ := newTestWriter(t, DefaultWriterConfig())
	db.setFail(true)
	require.NoError(t, w.Start(context.Background()))

	store.SetMarkets([]model.Market{mkt("A", "0.10"), mkt("B", "0.20")})

	err := w.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert prediction_markets")
	assert.Equal(t, 2, w.Pending())
	assert.Equal(t, int64(1), w.Stats().Errors)

	db.setFail(false)
	require.NoError(t, w.flush(context.Background()))
	assert.Equal(t, 0, w.Pending())
	assert.Len(t, db.batch(1), 2)
}

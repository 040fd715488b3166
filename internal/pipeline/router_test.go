package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"bbot/internal/model"
	"bbot/internal/window"
)

const minuteMs = 60_000

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// histKline builds the i-th 1m REST kline of a contiguous backfill starting
// at base, with price i+1 and volume i+1.
func histKline(base int64, i int) model.RESTKline {
	open := base + int64(i)*minuteMs
	p := fmt.Sprintf("%d", i+1)
	return model.RESTKline{
		json.Number(fmt.Sprintf("%d", open)), p, p, p, p, p,
		json.Number(fmt.Sprintf("%d", open+minuteMs-1)), p, json.Number("1"), p, p, "0",
	}
}

// streamEvent builds a 1m stream update for the bucket containing openTime.
func streamEvent(openTime, eventTime int64, price, volume string, nTrades int64, closed bool) model.StreamKline {
	return model.StreamKline{
		EventType: "kline",
		EventTime: eventTime,
		Symbol:    "BTCUSDT",
		Kline: model.StreamKlineK{
			OpenTime:    openTime,
			CloseTime:   openTime + minuteMs - 1,
			Interval:    "1m",
			Open:        price,
			Close:       price,
			High:        price,
			Low:         price,
			BaseVolume:  volume,
			QuoteVolume: volume,
			TakerBase:   volume,
			TakerQuote:  volume,
			NTrades:     nTrades,
			Closed:      closed,
		},
	}
}

func newTestRouter(t *testing.T, intervals []model.Interval, limit int) (*Router, *window.Registry) {
	t.Helper()
	reg := window.NewRegistry(intervals, limit)
	reg.CreatePairs([]string{"BTCUSDT"})
	return NewRouter(reg, &Counters{}), reg
}

func TestHistoryBackfill(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	for i := 0; i < 3; i++ {
		if err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, i)); err != nil {
			t.Fatalf("kline %d: unexpected error: %v", i, err)
		}
	}

	w, _ := reg.Window("BTCUSDT", model.Minute1)
	if w.Len() != 3 {
		t.Fatalf("expected 3 frames, got %d", w.Len())
	}
	frames := w.Snapshot()
	for i, tf := range frames {
		wantOpen := base + int64(i)*minuteMs
		if tf.OpenTime != wantOpen || tf.CloseTime != wantOpen+minuteMs-1 {
			t.Errorf("frame %d: wrong bounds [%d, %d]", i, tf.OpenTime, tf.CloseTime)
		}
		if tf.Candle == nil || tf.Candle.NTrades != 1 {
			t.Errorf("frame %d: candle not populated", i)
		}
	}
	if got := r.Counters().History.Load(); got != 3 {
		t.Errorf("expected history counter 3, got %d", got)
	}
}

func TestHistoryOverflowEvictsOldest(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 2)
	base := int64(1_700_000_040_000)

	for i := 0; i < 4; i++ {
		if err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, i)); err != nil {
			t.Fatalf("kline %d: unexpected error: %v", i, err)
		}
	}

	w, _ := reg.Window("BTCUSDT", model.Minute1)
	if w.Len() != 2 {
		t.Fatalf("expected 2 frames after eviction, got %d", w.Len())
	}
	if got := w.Snapshot()[0].OpenTime; got != base+2*minuteMs {
		t.Errorf("expected oldest surviving frame at %d, got %d", base+2*minuteMs, got)
	}
}

func TestHistoryIntervalMismatch(t *testing.T) {
	r, _ := newTestRouter(t, []model.Interval{model.Hour1}, 5)
	// A 1m kline routed at a 1h window: the span betrays it.
	err := r.Process("BTCUSDT", model.Hour1, ContentHistory, histKline(1_700_000_040_000, 0))
	if !errors.Is(err, model.ErrDataCorruption) {
		t.Errorf("expected ErrDataCorruption, got %v", err)
	}
}

func TestHistoryGapIsLeakage(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	if err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Skip kline 1 entirely.
	err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, 2))
	if !errors.Is(err, model.ErrDataLeakage) {
		t.Errorf("expected ErrDataLeakage, got %v", err)
	}

	// The failed payload must not have touched the window.
	w, _ := reg.Window("BTCUSDT", model.Minute1)
	if w.Len() != 1 {
		t.Errorf("expected window unchanged at 1 frame, got %d", w.Len())
	}
}

func TestHistoryRetroactiveWrite(t *testing.T) {
	r, _ := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	if err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The same kline again targets an already-written bucket.
	err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, 0))
	if !errors.Is(err, model.ErrRetroactiveWrite) {
		t.Errorf("expected ErrRetroactiveWrite, got %v", err)
	}
}

func TestStreamGateDropsUntilHistoryDone(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	ev := streamEvent(base, base+500, "10", "1", 1, false)
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := reg.Window("BTCUSDT", model.Minute1)
	if w.Len() != 0 {
		t.Errorf("gated window must stay empty, got %d frames", w.Len())
	}
	if got := r.Counters().GateDropped.Load(); got != 1 {
		t.Errorf("expected gate-dropped counter 1, got %d", got)
	}

	// Open the gate; the next update lands.
	if err := r.Process("BTCUSDT", model.Minute1, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Len() != 1 {
		t.Errorf("expected 1 frame after gate opened, got %d", w.Len())
	}
}

func TestStreamMergeAndRoll(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	var closedFrames []window.TimeFrame
	r.OnClosedCandle(func(symbol string, iv model.Interval, tf window.TimeFrame) {
		closedFrames = append(closedFrames, tf)
	})

	if err := r.Process("BTCUSDT", model.Minute1, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First update opens the bucket.
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+500, "10", "1", 1, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second update merges into the same bucket.
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+1500, "12", "3", 4, true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := reg.Window("BTCUSDT", model.Minute1)
	if w.Len() != 1 {
		t.Fatalf("expected 1 frame, got %d", w.Len())
	}
	last := w.Last().Candle
	if !last.Close.Equal(dec("12")) || !last.High.Equal(dec("12")) {
		t.Errorf("merge missed close/high: close=%s high=%s", last.Close, last.High)
	}

	// Next minute's update rolls the window and closes the old candle.
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base+minuteMs, base+minuteMs+500, "13", "1", 1, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Len() != 2 {
		t.Fatalf("expected 2 frames after roll, got %d", w.Len())
	}
	if len(closedFrames) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(closedFrames))
	}
	if closedFrames[0].OpenTime != base {
		t.Errorf("wrong closed frame: opens at %d", closedFrames[0].OpenTime)
	}
}

func TestStreamCoarseWindowAccumulates(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute5}, 5)
	base := int64(1_700_000_100_000) // 5m-aligned

	if err := r.Process("BTCUSDT", model.Minute5, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two cumulative samples of the first 1m candle, then the opening sample
	// of the second 1m candle.
	updates := []model.StreamKline{
		streamEvent(base, base+500, "10", "2", 2, false),
		streamEvent(base, base+59_999, "11", "5", 6, true),
		streamEvent(base+minuteMs, base+minuteMs+500, "12", "1", 1, false),
	}
	for i, ev := range updates {
		if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream, ev); err != nil {
			t.Fatalf("update %d: unexpected error: %v", i, err)
		}
	}

	w, _ := reg.Window("BTCUSDT", model.Minute5)
	if w.Len() != 1 {
		t.Fatalf("expected a single 5m frame, got %d", w.Len())
	}
	c := w.Last().Candle
	// 5 from the closed first minute (2 then delta 3), plus 1 from the second.
	if !c.BaseVolume.Equal(dec("6")) {
		t.Errorf("expected accumulated volume 6, got %s", c.BaseVolume)
	}
	if c.NTrades != 7 {
		t.Errorf("expected 7 trades, got %d", c.NTrades)
	}
	if !c.Close.Equal(dec("12")) {
		t.Errorf("expected close 12, got %s", c.Close)
	}
}

func TestStreamFirstUpdateAfterBackfillOverlap(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	// Backfill delivers the still-open minute with the volume seen so far.
	if err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.Minute1, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First live update for the same minute carries the cumulative volume 5,
	// which already includes the backfilled 1. The candle must end at the
	// cumulative state, not the sum of both.
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+30_000, "2", "5", 9, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := reg.Window("BTCUSDT", model.Minute1)
	c := w.Last().Candle
	if !c.BaseVolume.Equal(dec("5")) {
		t.Errorf("expected cumulative volume 5, got %s", c.BaseVolume)
	}
	if c.NTrades != 9 {
		t.Errorf("expected cumulative trade count 9, got %d", c.NTrades)
	}
	if !c.Close.Equal(dec("2")) {
		t.Errorf("expected close 2, got %s", c.Close)
	}
}

func TestStreamCoarseFirstUpdateAfterBackfillOverlap(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1, model.Minute5}, 5)
	base := int64(1_700_000_100_000) // 5m-aligned

	// The 5m backfill accumulated two closed minutes (1 and 2) plus the
	// in-progress third minute's 3 so far; the 1m backfill holds that same
	// in-progress minute.
	fiveMin := model.RESTKline{
		json.Number(fmt.Sprintf("%d", base)), "1", "3", "1", "3", "6",
		json.Number(fmt.Sprintf("%d", base+5*minuteMs-1)), "6", json.Number("6"), "6", "6", "0",
	}
	if err := r.Process("BTCUSDT", model.Minute5, ContentHistory, fiveMin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.Minute5, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.Minute1, ContentHistory, histKline(base, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.Minute1, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First live update: cumulative volume 7 for the third minute, of which
	// 3 is already inside both backfills. The 5m candle grows by the delta.
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base+2*minuteMs, base+2*minuteMs+30_000, "4", "7", 7, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coarse, _ := reg.Window("BTCUSDT", model.Minute5)
	c := coarse.Last().Candle
	if !c.BaseVolume.Equal(dec("10")) {
		t.Errorf("expected 5m volume 6+(7-3)=10, got %s", c.BaseVolume)
	}
	fine, _ := reg.Window("BTCUSDT", model.Minute1)
	if got := fine.Last().Candle.BaseVolume; !got.Equal(dec("7")) {
		t.Errorf("expected 1m cumulative volume 7, got %s", got)
	}
}

func TestHistoryUnknownSpanIsCorruption(t *testing.T) {
	r, _ := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	// Close time off by one: the span matches no interval.
	raw := histKline(base, 0)
	raw[6] = json.Number(fmt.Sprintf("%d", base+minuteMs))
	err := r.Process("BTCUSDT", model.Minute1, ContentHistory, raw)
	if !errors.Is(err, model.ErrDataCorruption) {
		t.Errorf("expected ErrDataCorruption, got %v", err)
	}
}

func TestAlignedFrameWeeklyOpensMonday(t *testing.T) {
	// 2023-11-13T00:00:00Z is a Monday.
	monday := int64(1_699_833_600_000)

	tf := alignedFrame(model.Week1, monday+3*24*60*60*1000+12345)
	if tf.OpenTime != monday {
		t.Errorf("expected weekly bucket to open at %d, got %d", monday, tf.OpenTime)
	}
	if tf.CloseTime != monday+model.Week1.Millis()-1 {
		t.Errorf("wrong weekly close: %d", tf.CloseTime)
	}

	// Daily buckets stay on the epoch grid.
	day := alignedFrame(model.Day1, monday+1234)
	if day.OpenTime != monday {
		t.Errorf("expected daily bucket to open at %d, got %d", monday, day.OpenTime)
	}
}

func TestDerivedFirstSampleOnlySeeds(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Second2}, 5)
	base := int64(1_700_000_040_000)

	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+500, "10", "1", 1, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := reg.Window("BTCUSDT", model.Second2)
	if w.Len() != 0 {
		t.Errorf("first sample must only seed, got %d frames", w.Len())
	}
	if w.LastUpdate == nil {
		t.Error("expected last-update slot to be seeded")
	}
}

func TestDerivedBucketFromTwoSamples(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Second2}, 5)
	base := int64(1_700_000_040_000)

	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+500, "10", "2", 2, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+2500, "11", "5", 6, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _ := reg.Window("BTCUSDT", model.Second2)
	if w.Len() != 1 {
		t.Fatalf("expected 1 derived frame, got %d", w.Len())
	}
	tf := w.Last()
	if tf.OpenTime != base+2500-1999 || tf.CloseTime != base+2500 {
		t.Errorf("wrong derived bucket: [%d, %d]", tf.OpenTime, tf.CloseTime)
	}
	c := tf.Candle
	if !c.Open.Equal(dec("10")) || !c.Close.Equal(dec("11")) {
		t.Errorf("wrong derived open/close: %s/%s", c.Open, c.Close)
	}
	if !c.BaseVolume.Equal(dec("3")) {
		t.Errorf("expected delta volume 3, got %s", c.BaseVolume)
	}
}

func TestStreamLeakageHaltsWithWindowIntact(t *testing.T) {
	r, reg := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	base := int64(1_700_000_040_000)

	if err := r.Process("BTCUSDT", model.Minute1, ContentHistoryDone, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base, base+500, "10", "1", 1, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Jump two minutes ahead: a bucket was skipped.
	err := r.Process("BTCUSDT", model.IntervalWildcard, ContentStream,
		streamEvent(base+2*minuteMs, base+2*minuteMs+500, "10", "1", 1, false))
	if !errors.Is(err, model.ErrDataLeakage) {
		t.Errorf("expected ErrDataLeakage, got %v", err)
	}

	w, _ := reg.Window("BTCUSDT", model.Minute1)
	if w.Len() != 1 {
		t.Errorf("failed payload must leave the window unmodified, got %d frames", w.Len())
	}
}

func TestProcessUnknownSymbol(t *testing.T) {
	r, _ := newTestRouter(t, []model.Interval{model.Minute1}, 5)
	err := r.Process("DOGEUSDT", model.Minute1, ContentHistory, histKline(0, 0))
	if !errors.Is(err, model.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dankstats/internal/analytics"
	"dankstats/internal/chart"
	"dankstats/internal/store"
)

// trendWindow is the moving-average span, in trades, for the chart lines.
const trendWindow = 50

var errNoTrades = errors.New("no trades recorded for item")

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	itemStr := q.Get("item")
	if itemStr == "" {
		writeError(w, 400, "item parameter is required")
		return
	}
	itemID, err := strconv.ParseInt(itemStr, 10, 64)
	if err != nil || itemID < 0 {
		writeError(w, 400, "invalid item parameter")
		return
	}
	last, err := parseIntParam(q.Get("last"), defaultLast)
	if err != nil || last <= 0 {
		writeError(w, 400, "invalid last parameter")
		return
	}
	if last > maxChartLast {
		last = maxChartLast
	}
	excludePrivate := q.Get("private") == "false"
	removeOutliers := q.Get("routlier") == "true"

	key := fmt.Sprintf("%d|%d|%t|%t", itemID, last, excludePrivate, removeOutliers)
	v, err, _ := s.charts.Do(key, func() (interface{}, error) {
		s.renderSlot <- struct{}{}
		defer func() { <-s.renderSlot }()
		return s.renderChart(itemID, last, excludePrivate, removeOutliers)
	})
	if err != nil {
		if errors.Is(err, errNoTrades) {
			writeError(w, 404, errNoTrades.Error())
			return
		}
		writeError(w, 500, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(v.([]byte))
}

// renderChart fetches the newest trades for an item and draws them oldest
// first, split by side, with a centered moving-average trend per side.
func (s *Server) renderChart(itemID int64, last int, excludePrivate, removeOutliers bool) ([]byte, error) {
	filter := store.AllTrades()
	filter.ItemID = itemID
	filter.ExcludePrivate = excludePrivate

	trades, err := s.store.Find(filter, true, 0, last)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, errNoTrades
	}
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}

	var buys, sells []analytics.Point
	for i, t := range trades {
		p := analytics.Point{X: int64(i), Y: t.Price}
		if t.IsSell {
			sells = append(sells, p)
		} else {
			buys = append(buys, p)
		}
	}
	if removeOutliers {
		buys = analytics.RemoveOutliersIQR(buys)
		sells = analytics.RemoveOutliersIQR(sells)
	}

	in := chart.Input{
		Sells:     sells,
		Buys:      buys,
		SellTrend: analytics.MovingAverage(sells, trendWindow),
		BuyTrend:  analytics.MovingAverage(buys, trendWindow),
		MaxIndex:  len(trades) - 1,
	}
	for _, idx := range analytics.ThreeTickIndices(len(trades)) {
		label := time.UnixMilli(trades[idx].TS).UTC().Format("1/2/2006")
		in.Ticks = append(in.Ticks, chart.Tick{Index: idx, Label: label})
	}
	return chart.RenderPNG(in)
}

package blackjack

import (
	"fmt"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/sw965/rook"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NewValuePage builds an HTML page with two heatmaps of the greedy state
// value (the mean estimate of the greedy action): one without a usable ace
// and one with. States absent from the table are left blank.
//
// NewValuePageは貪欲行動の平均推定値（状態価値）のヒートマップを2枚
// （使用可能なエースなし・あり）持つHTMLページを作成します。
// 表に存在しない状態は空欄になります。
func NewValuePage(q rook.QTable[State, Action]) *components.Page {
	page := components.NewPage()
	page.AddCharts(
		newValueHeatMap(q, false),
		newValueHeatMap(q, true),
	)
	return page
}

func newValueHeatMap(q rook.QTable[State, Action], usableAce bool) *charts.HeatMap {
	dealerLabels := []string{"X", "A", "2", "3", "4", "5", "6", "7", "8", "9"}
	sumLabels := make([]string, 0, MaxPlayerSum-MinPlayerSum+1)
	for sum := MinPlayerSum; sum <= MaxPlayerSum; sum++ {
		sumLabels = append(sumLabels, strconv.Itoa(sum))
	}

	data := make([]opts.HeatMapData, 0, len(dealerLabels)*len(sumLabels))
	values := make([]float64, 0, len(dealerLabels)*len(sumLabels))
	for sum := MinPlayerSum; sum <= MaxPlayerSum; sum++ {
		sumIdx := sum - MinPlayerSum
		for dealer := Card(0); dealer <= 9; dealer++ {
			avs, ok := q[State{Sum: sum, DealerCard: dealer, UsableAce: usableAce}]
			if !ok {
				continue
			}
			greedy, err := avs.Greedy()
			if err != nil {
				continue
			}
			v := avs.ByAction[greedy].Mean()
			data = append(data, opts.HeatMapData{Value: [3]interface{}{int(dealer), sumIdx, v}})
			values = append(values, v)
		}
	}

	min, max, mean := -1.0, 1.0, 0.0
	if len(values) > 0 {
		min = floats.Min(values)
		max = floats.Max(values)
		mean = stat.Mean(values, nil)
	}

	title := "State value (no usable ace)"
	if usableAce {
		title = "State value (usable ace)"
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("mean state value: %.3f", mean),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "category",
			Name: "Dealer Card",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "category",
			Name: "Player Sum",
			Data: sumLabels,
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Min: float32(min),
			Max: float32(max),
			InRange: &opts.VisualMapInRange{
				Color: []string{"#2166ac", "#f7f7f7", "#b2182b"},
			},
		}),
	)
	hm.SetXAxis(dealerLabels).AddSeries("value", data)
	return hm
}

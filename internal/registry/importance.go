package registry

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// maxPlottedFeatures caps the bars in the importance chart.
const maxPlottedFeatures = 20

// RenderImportancePlot draws a horizontal bar chart of the model's feature
// importances, most important at the top, and returns it as PNG.
func RenderImportancePlot(m *TrainedModel) ([]byte, error) {
	imp := m.Forest.FeatureImportances()
	names := m.Schema.FeatureNames
	if len(imp) != len(names) {
		return nil, fmt.Errorf("importance plot: %d importances for %d features", len(imp), len(names))
	}

	order := make([]int, len(imp))
	for i := range order {
		order[i] = i
	}
	// Ascending so the largest bar is drawn last, at the top.
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(imp[a], imp[b]) })
	if len(order) > maxPlottedFeatures {
		order = order[len(order)-maxPlottedFeatures:]
	}

	values := make(plotter.Values, len(order))
	labels := make([]string, len(order))
	for i, j := range order {
		values[i] = imp[j]
		labels[i] = names[j]
	}

	p := plot.New()
	p.Title.Text = m.Key + " - feature importance"
	p.X.Label.Text = "importance"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return nil, fmt.Errorf("importance plot: %w", err)
	}
	bars.Horizontal = true
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalY(labels...)

	height := vg.Points(float64(60 + 18*len(order)))
	w, err := p.WriterTo(6*vg.Inch, height, "png")
	if err != nil {
		return nil, fmt.Errorf("importance plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("importance plot: %w", err)
	}
	return buf.Bytes(), nil
}

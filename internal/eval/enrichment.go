package eval

import (
	"context"
	"math"
	"strconv"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// Float is a float64 that encodes infinities and NaN as the JSON strings
// "Infinity", "-Infinity" and "NaN".
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
}

// EnrichmentResult is the 2x2 contingency table of one target dataset over
// the universe regions, with its statistics.
//
// Support counts universe regions overlapped by both the query and the
// target; B those overlapped by the target only, C by the query only, D by
// neither.
type EnrichmentResult struct {
	Dataset   string `json:"dataset"`
	Name      string `json:"name"`
	Support   int64  `json:"support"`
	B         int64  `json:"b"`
	C         int64  `json:"c"`
	D         int64  `json:"d"`
	OddsRatio Float  `json:"odds_ratio"`
	PValueLog Float  `json:"p_value_log"`
}

// Enrichment tests the overlap of the query regions with each target
// dataset against the universe regions.
func (e *Evaluator) Enrichment(ctx context.Context, queryNode, universe *query.Node, genome string, datasets []string) ([]EnrichmentResult, error) {
	if len(datasets) == 0 {
		return nil, ir.Errorf(ir.CodeInvalidArguments, "enrichment needs at least one target dataset")
	}
	g, err := e.store.Genome(ctx, genome)
	if err != nil {
		return nil, err
	}

	it, err := e.Rows(ctx, universe)
	if err != nil {
		return nil, err
	}
	bins, err := region.Collect(it)
	if err != nil {
		return nil, err
	}

	userHits, err := e.hits(ctx, bins, func() (region.Iterator, error) { return e.Rows(ctx, queryNode) })
	if err != nil {
		return nil, err
	}

	results := make([]EnrichmentResult, 0, len(datasets))
	for _, ref := range datasets {
		d, err := e.store.ResolveDataset(ctx, ref)
		if err != nil {
			return nil, err
		}
		if d.Genome != g.Name {
			return nil, ir.Errorf(ir.CodeIncompatibleGenome, "dataset %s belongs to genome %s, not %s", d.Name, d.Genome, g.Name).
				WithToken(ref)
		}
		targetHits, err := e.hits(ctx, bins, func() (region.Iterator, error) {
			return e.store.ReadRows(ctx, d.ID, store.Window{})
		})
		if err != nil {
			return nil, err
		}
		res := EnrichmentResult{Dataset: d.ID, Name: d.Name}
		for i := range bins {
			switch {
			case userHits[i] && targetHits[i]:
				res.Support++
			case targetHits[i]:
				res.B++
			case userHits[i]:
				res.C++
			default:
				res.D++
			}
		}
		res.OddsRatio = Float(oddsRatio(res.Support, res.B, res.C, res.D))
		res.PValueLog = Float(pValueLog(res.Support, res.B, res.C, res.D))
		results = append(results, res)
	}
	return results, nil
}

// hits marks the bins overlapped by at least one row of the opened stream.
func (e *Evaluator) hits(ctx context.Context, bins []region.Row, open func() (region.Iterator, error)) ([]bool, error) {
	it, err := open()
	if err != nil {
		return nil, err
	}
	defer it.Close()
	sweep := region.NewSweeper(region.WithContext(ctx, it))
	out := make([]bool, len(bins))
	for i, b := range bins {
		rows, err := sweep.Overlapping(b)
		if err != nil {
			return nil, err
		}
		out[i] = len(rows) > 0
	}
	return out, nil
}

// oddsRatio returns (a*d)/(b*c), +Inf when b*c is zero.
func oddsRatio(a, b, c, d int64) float64 {
	if b == 0 || c == 0 {
		return math.Inf(1)
	}
	return Round4(float64(a) * float64(d) / (float64(b) * float64(c)))
}

// pValueLog returns -log10 of the one-sided hypergeometric probability of
// observing at least a shared regions. It is exactly 0 when a is 0.
func pValueLog(a, b, c, d int64) float64 {
	if a == 0 {
		return 0
	}
	total := a + b + c + d
	drawn := a + b // universe regions hit by the target
	marked := a + c
	top := min(drawn, marked)
	logs := make([]float64, 0, top-a+1)
	for k := a; k <= top; k++ {
		logs = append(logs, logChoose(marked, k)+logChoose(total-marked, drawn-k)-logChoose(total, drawn))
	}
	m := logs[0]
	for _, l := range logs {
		m = max(m, l)
	}
	var sum float64
	for _, l := range logs {
		sum += math.Exp(l - m)
	}
	p := -(m + math.Log(sum)) / math.Ln10
	if p <= 0 {
		return 0
	}
	return Round4(p)
}

func logChoose(n, k int64) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}

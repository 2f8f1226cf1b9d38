package worker

import (
	"math"
	"strconv"
	"strings"

	"github.com/epibuilder/portal/internal/model"
)

// Per-residue propensity scales used by the predictor. Window averages
// over these drive both the epitope calls and the per-epitope score
// columns shown in the results table.
var (
	// Kyte-Doolittle hydropathy.
	hydropathyScale = map[byte]float64{
		'A': 1.8, 'R': -4.5, 'N': -3.5, 'D': -3.5, 'C': 2.5,
		'Q': -3.5, 'E': -3.5, 'G': -0.4, 'H': -3.2, 'I': 4.5,
		'L': 3.8, 'K': -3.9, 'M': 1.9, 'F': 2.8, 'P': -1.6,
		'S': -0.8, 'T': -0.7, 'W': -0.9, 'Y': -1.3, 'V': 4.2,
	}

	// Parker hydrophilicity.
	parkerScale = map[byte]float64{
		'A': 2.1, 'R': 4.2, 'N': 7.0, 'D': 10.0, 'C': 1.4,
		'Q': 6.0, 'E': 7.8, 'G': 5.7, 'H': 2.1, 'I': -8.0,
		'L': -9.2, 'K': 5.7, 'M': -4.2, 'F': -9.2, 'P': 2.1,
		'S': 6.5, 'T': 5.2, 'W': -10.0, 'Y': -1.9, 'V': -3.7,
	}

	// Kolaskar-Tongaonkar antigenicity.
	kolaskarScale = map[byte]float64{
		'A': 1.064, 'R': 0.873, 'N': 0.776, 'D': 0.866, 'C': 1.412,
		'Q': 1.015, 'E': 0.851, 'G': 0.874, 'H': 1.105, 'I': 1.152,
		'L': 1.250, 'K': 0.930, 'M': 0.826, 'F': 1.091, 'P': 1.064,
		'S': 1.012, 'T': 0.909, 'W': 0.893, 'Y': 1.161, 'V': 1.383,
	}

	// Chou-Fasman beta-turn propensity.
	chouFasmanScale = map[byte]float64{
		'A': 0.66, 'R': 0.95, 'N': 1.56, 'D': 1.46, 'C': 1.19,
		'Q': 0.98, 'E': 0.74, 'G': 1.56, 'H': 0.95, 'I': 0.47,
		'L': 0.59, 'K': 1.01, 'M': 0.60, 'F': 0.60, 'P': 1.52,
		'S': 1.43, 'T': 0.96, 'W': 0.96, 'Y': 1.14, 'V': 0.50,
	}

	// Emini surface accessibility probability.
	eminiScale = map[byte]float64{
		'A': 0.49, 'R': 0.95, 'N': 0.81, 'D': 0.78, 'C': 0.26,
		'Q': 0.84, 'E': 0.84, 'G': 0.48, 'H': 0.66, 'I': 0.34,
		'L': 0.40, 'K': 0.97, 'M': 0.48, 'F': 0.42, 'P': 0.75,
		'S': 0.65, 'T': 0.70, 'W': 0.51, 'Y': 0.76, 'V': 0.36,
	}

	// Karplus-Schulz flexibility.
	karplusScale = map[byte]float64{
		'A': 0.984, 'R': 1.008, 'N': 1.048, 'D': 1.068, 'C': 0.906,
		'Q': 1.037, 'E': 1.094, 'G': 1.031, 'H': 0.950, 'I': 0.927,
		'L': 0.935, 'K': 1.102, 'M': 0.952, 'F': 0.915, 'P': 1.049,
		'S': 1.046, 'T': 0.997, 'W': 0.904, 'Y': 0.929, 'V': 0.931,
	}

	// Average residue masses in Dalton.
	residueMass = map[byte]float64{
		'A': 71.08, 'R': 156.19, 'N': 114.10, 'D': 115.09, 'C': 103.14,
		'Q': 128.13, 'E': 129.12, 'G': 57.05, 'H': 137.14, 'I': 113.16,
		'L': 113.16, 'K': 128.17, 'M': 131.19, 'F': 147.18, 'P': 97.12,
		'S': 87.08, 'T': 101.10, 'W': 186.21, 'Y': 163.18, 'V': 99.13,
	}
)

const waterMass = 18.02

// predictEpitopes calls linear epitope candidates on one protein: a
// smoothed per-residue propensity is thresholded, contiguous regions
// above the threshold are merged, and regions shorter than the minimum
// length are discarded. Regions longer than the maximum are trimmed to
// their best-scoring window.
func predictEpitopes(seq string, params model.TaskParams) []model.Epitope {
	seq = strings.ToUpper(seq)
	n := len(seq)
	if n == 0 {
		return nil
	}

	scores := residueScores(seq)
	// Scale the 0..1 threshold onto the score distribution the same way
	// the upstream predictor does: strictly above threshold is a call.
	threshold := params.BepipredThreshold

	var epitopes []model.Epitope
	start := -1
	for i := 0; i <= n; i++ {
		above := i < n && scores[i] > threshold
		if above && start < 0 {
			start = i
		}
		if !above && start >= 0 {
			epitopes = appendRegion(epitopes, seq, scores, start, i, params)
			start = -1
		}
	}

	for i := range epitopes {
		epitopes[i].N = i + 1
	}
	return epitopes
}

// residueScores computes the smoothed prediction score per residue:
// window-averaged Parker hydrophilicity mapped into 0..1.
func residueScores(seq string) []float64 {
	const window = 7
	n := len(seq)
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		lo, hi := i-window/2, i+window/2
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += parkerScale[seq[j]]
		}
		avg := sum / float64(hi-lo+1)
		// Parker values span -10..10; map onto 0..1.
		scores[i] = (avg + 10) / 20
	}
	return scores
}

func appendRegion(epitopes []model.Epitope, seq string, scores []float64, start, end int, params model.TaskParams) []model.Epitope {
	length := end - start
	if length < params.MinEpitopeLength {
		return epitopes
	}
	if params.MaxEpitopeLength > 0 && length > params.MaxEpitopeLength {
		start, end = bestWindow(scores, start, end, params.MaxEpitopeLength)
	}

	fragment := seq[start:end]
	ep := model.Epitope{
		Sequence:         fragment,
		Start:            start + 1, // 1-based, inclusive
		End:              end,
		Length:           len(fragment),
		MolecularWeight:  round3(molecularWeightKDa(fragment)),
		IsoelectricPoint: round3(isoelectricPoint(fragment)),
		Hydropathy:       round3(meanScale(fragment, hydropathyScale)),
		BepiPred3:        round3(meanRange(scores, start, end)),
		Emini:            round3(meanScale(fragment, eminiScale)),
		Kolaskar:         round3(meanScale(fragment, kolaskarScale)),
		ChouFasman:       round3(meanScale(fragment, chouFasmanScale)),
		KarplusSchulz:    round3(meanScale(fragment, karplusScale)),
		Parker:           round3(meanScale(fragment, parkerScale)),
	}
	ep.NGlyc, ep.NGlycCount = nGlycosylation(fragment)
	ep.Topologies = topologies(ep)
	return append(epitopes, ep)
}

// bestWindow slides a fixed-size window across [start,end) and keeps
// the one with the highest mean score.
func bestWindow(scores []float64, start, end, size int) (int, int) {
	bestStart, bestSum := start, math.Inf(-1)
	var sum float64
	for i := start; i < start+size; i++ {
		sum += scores[i]
	}
	bestSum = sum
	for i := start + 1; i+size <= end; i++ {
		sum += scores[i+size-1] - scores[i-1]
		if sum > bestSum {
			bestSum = sum
			bestStart = i
		}
	}
	return bestStart, bestStart + size
}

func meanScale(seq string, scale map[byte]float64) float64 {
	if len(seq) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(seq); i++ {
		sum += scale[seq[i]]
	}
	return sum / float64(len(seq))
}

func meanRange(scores []float64, start, end int) float64 {
	if end <= start {
		return 0
	}
	var sum float64
	for i := start; i < end; i++ {
		sum += scores[i]
	}
	return sum / float64(end-start)
}

func molecularWeightKDa(seq string) float64 {
	mass := waterMass
	for i := 0; i < len(seq); i++ {
		mass += residueMass[seq[i]]
	}
	return mass / 1000
}

// isoelectricPoint solves net charge == 0 by bisection over pH using
// standard side-chain pKa values.
func isoelectricPoint(seq string) float64 {
	counts := map[byte]int{}
	for i := 0; i < len(seq); i++ {
		counts[seq[i]]++
	}

	charge := func(pH float64) float64 {
		pos := 1/(1+math.Pow(10, pH-9.0)) + // N-terminus
			float64(counts['K'])/(1+math.Pow(10, pH-10.5)) +
			float64(counts['R'])/(1+math.Pow(10, pH-12.5)) +
			float64(counts['H'])/(1+math.Pow(10, pH-6.0))
		neg := 1/(1+math.Pow(10, 2.0-pH)) + // C-terminus
			float64(counts['D'])/(1+math.Pow(10, 3.9-pH)) +
			float64(counts['E'])/(1+math.Pow(10, 4.1-pH)) +
			float64(counts['C'])/(1+math.Pow(10, 8.3-pH)) +
			float64(counts['Y'])/(1+math.Pow(10, 10.1-pH))
		return pos - neg
	}

	lo, hi := 0.0, 14.0
	for i := 0; i < 50; i++ {
		mid := (lo + hi) / 2
		if charge(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// nGlycosylation finds N-X-S/T sequons (X != P) and reports their
// 1-based positions within the fragment.
func nGlycosylation(seq string) (string, int) {
	var positions []string
	for i := 0; i+2 < len(seq); i++ {
		if seq[i] == 'N' && seq[i+1] != 'P' && (seq[i+2] == 'S' || seq[i+2] == 'T') {
			positions = append(positions, strconv.Itoa(i+1))
		}
	}
	return strings.Join(positions, ","), len(positions)
}

// topologies summarizes each method's call for the results detail view.
func topologies(ep model.Epitope) []model.Topology {
	rows := []model.Topology{
		{Method: model.MethodBepiPred3, Threshold: 0.5, AvgScore: ep.BepiPred3},
		{Method: model.MethodEmini, Threshold: 0.6, AvgScore: ep.Emini},
		{Method: model.MethodKolaskar, Threshold: 1.0, AvgScore: ep.Kolaskar},
		{Method: model.MethodChouFasman, Threshold: 1.0, AvgScore: ep.ChouFasman},
		{Method: model.MethodKarplusSchulz, Threshold: 1.0, AvgScore: ep.KarplusSchulz},
		{Method: model.MethodParker, Threshold: 2.0, AvgScore: ep.Parker},
	}
	for i := range rows {
		rows[i].N = i + 1
		if rows[i].Threshold != 0 {
			cover := rows[i].AvgScore / rows[i].Threshold
			if cover > 1 {
				cover = 1
			}
			if cover < 0 {
				cover = 0
			}
			rows[i].Cover = round3(cover * 100)
		}
	}
	return rows
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}


package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
)

func defaultParams() model.TaskParams {
	return model.TaskParams{
		ActionType:        model.ActionDefault,
		BepipredThreshold: model.DefaultBepipredThreshold,
		MinEpitopeLength:  model.DefaultMinEpitopeLength,
		MaxEpitopeLength:  model.DefaultMaxEpitopeLength,
	}
}

func TestPredictEpitopesRespectsLengthBounds(t *testing.T) {
	// strongly hydrophilic stretch flanked by hydrophobic residues
	seq := strings.Repeat("I", 20) + strings.Repeat("KDESR", 8) + strings.Repeat("L", 20)

	epitopes := predictEpitopes(seq, defaultParams())
	require.NotEmpty(t, epitopes)
	for _, ep := range epitopes {
		require.GreaterOrEqual(t, ep.Length, model.DefaultMinEpitopeLength)
		require.LessOrEqual(t, ep.Length, model.DefaultMaxEpitopeLength)
		require.Equal(t, ep.End-ep.Start+1, ep.Length)
		require.Equal(t, ep.Sequence, seq[ep.Start-1:ep.End])
	}
}

func TestPredictEpitopesNumbersSequentially(t *testing.T) {
	seq := strings.Repeat("KDESR", 6) + strings.Repeat("ILVF", 10) + strings.Repeat("KDESR", 6)

	epitopes := predictEpitopes(seq, defaultParams())
	for i, ep := range epitopes {
		require.Equal(t, i+1, ep.N)
	}
}

func TestPredictEpitopesEmptySequence(t *testing.T) {
	require.Empty(t, predictEpitopes("", defaultParams()))
}

func TestShortRegionsDiscarded(t *testing.T) {
	// hydrophilic stretch shorter than the minimum length
	seq := strings.Repeat("I", 30) + "KDESR" + strings.Repeat("L", 30)

	params := defaultParams()
	params.MinEpitopeLength = 20
	require.Empty(t, predictEpitopes(seq, params))
}

func TestScoreColumnsPopulated(t *testing.T) {
	seq := strings.Repeat("KDESRNQT", 6)

	epitopes := predictEpitopes(seq, defaultParams())
	require.NotEmpty(t, epitopes)

	ep := epitopes[0]
	require.Greater(t, ep.MolecularWeight, 0.0)
	require.Greater(t, ep.IsoelectricPoint, 0.0)
	require.NotZero(t, ep.Parker)
	require.Len(t, ep.Topologies, 6)
}

func TestNGlycosylationSequons(t *testing.T) {
	// N-X-S/T with X != P
	sites, count := nGlycosylation("AANGTAA")
	require.Equal(t, 1, count)
	require.NotEmpty(t, sites)

	// proline in the X position blocks the sequon
	_, count = nGlycosylation("AANPTAA")
	require.Zero(t, count)

	_, count = nGlycosylation("AAAAAA")
	require.Zero(t, count)
}

func TestIsoelectricPointRange(t *testing.T) {
	// basic-rich fragments sit above neutral, acidic-rich below
	basic := isoelectricPoint("KRKRKRKR")
	acidic := isoelectricPoint("DEDEDEDE")
	require.Greater(t, basic, 7.0)
	require.Less(t, acidic, 7.0)
}

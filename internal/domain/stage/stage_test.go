package stage_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

func TestApplicable_Farmed(t *testing.T) {
	require.Equal(t, []stage.Stage{
		stage.Hatchery, stage.GrowOut, stage.Harvest, stage.Processing,
		stage.ColdStorage, stage.Transport, stage.Retail, stage.Consumer,
	}, stage.Applicable(stage.SourceFarmed))
}

func TestApplicable_WildCapture(t *testing.T) {
	require.Equal(t, []stage.Stage{
		stage.Fishing, stage.Harvest, stage.Processing,
		stage.ColdStorage, stage.Transport, stage.Retail, stage.Consumer,
	}, stage.Applicable(stage.SourceWildCapture))
}

func TestApplicable_ReturnsCopy(t *testing.T) {
	stages := stage.Applicable(stage.SourceFarmed)
	stages[0] = stage.Consumer
	require.Equal(t, stage.Hatchery, stage.Applicable(stage.SourceFarmed)[0])
}

func TestIsApplicable(t *testing.T) {
	require.True(t, stage.IsApplicable(stage.SourceFarmed, stage.GrowOut))
	require.False(t, stage.IsApplicable(stage.SourceFarmed, stage.Fishing))
	require.True(t, stage.IsApplicable(stage.SourceWildCapture, stage.Fishing))
	require.False(t, stage.IsApplicable(stage.SourceWildCapture, stage.Hatchery))
	require.False(t, stage.IsApplicable("AQUAPONIC", stage.Harvest))
}

func TestNextAndRemaining(t *testing.T) {
	next, ok := stage.Next(stage.SourceWildCapture, stage.Fishing)
	require.True(t, ok)
	require.Equal(t, stage.Harvest, next)

	_, ok = stage.Next(stage.SourceFarmed, stage.Consumer)
	require.False(t, ok)

	require.Equal(t, []stage.Stage{stage.Retail, stage.Consumer}, stage.Remaining(stage.SourceFarmed, stage.Transport))
	require.Empty(t, stage.Remaining(stage.SourceFarmed, stage.Consumer))
	require.Nil(t, stage.Remaining(stage.SourceFarmed, stage.Fishing))
}

func TestOriginStages(t *testing.T) {
	require.Equal(t, []stage.Stage{stage.Hatchery, stage.GrowOut, stage.Harvest}, stage.OriginStages(stage.SourceFarmed))
	require.Equal(t, []stage.Stage{stage.Fishing, stage.Harvest}, stage.OriginStages(stage.SourceWildCapture))
}

func TestParse(t *testing.T) {
	st, err := stage.ParseStage("cold_storage")
	require.NoError(t, err)
	require.Equal(t, stage.ColdStorage, st)

	_, err = stage.ParseStage("smoking")
	require.ErrorIs(t, err, stage.ErrUnknown)

	src, err := stage.ParseSourceType(" wild_capture ")
	require.NoError(t, err)
	require.Equal(t, stage.SourceWildCapture, src)

	_, err = stage.ParseSourceType("hydroponic")
	require.ErrorIs(t, err, stage.ErrUnknown)
}

func TestPayloads_AssignOnce(t *testing.T) {
	var p stage.Payloads
	first := &stage.HarvestData{HarvestMethod: "net"}
	second := &stage.HarvestData{HarvestMethod: "hand-picked"}

	require.True(t, p.Assign(stage.Harvest, first))
	require.False(t, p.Assign(stage.Harvest, second))
	require.Equal(t, "net", p.Harvest.HarvestMethod)

	require.False(t, p.Assign(stage.Processing, &stage.HarvestData{}))
	require.False(t, p.Assign(stage.Retail, map[string]any{"shop": "x"}))
}

func TestPayloads_ConsistentWith(t *testing.T) {
	farmed := stage.Payloads{Hatchery: &stage.HatcheryData{}}
	require.True(t, farmed.ConsistentWith(stage.SourceFarmed))
	require.False(t, farmed.ConsistentWith(stage.SourceWildCapture))

	wild := stage.Payloads{Fishing: &stage.FishingData{}}
	require.True(t, wild.ConsistentWith(stage.SourceWildCapture))
	require.False(t, wild.ConsistentWith(stage.SourceFarmed))
}

func TestDescribe(t *testing.T) {
	all := stage.Describe()
	require.Len(t, all, 2)

	wild := stage.Describe(stage.SourceWildCapture)
	require.Len(t, wild, 1)
	stages := wild[0].Stages
	require.Len(t, stages, 7)
	require.Equal(t, stage.Fishing, stages[0].Stage)
	require.True(t, stages[0].Origin)
	require.True(t, stages[1].Origin, "HARVEST is a valid origin")
	require.False(t, stages[2].Origin)
	require.Equal(t, 6, stages[6].Position)
	require.Contains(t, stages[0].RequiredFields, "vesselId")
	require.Empty(t, stages[6].RequiredFields)
}

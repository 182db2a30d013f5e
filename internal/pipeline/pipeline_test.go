package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextStages_ParseFansOutToValidateAndAttachments(t *testing.T) {
	require.ElementsMatch(t, []string{StageValidate, StageAttachments}, NextStages(StageParse))
}

func TestNextStages_LinearChain(t *testing.T) {
	require.Equal(t, []string{StageEnrich}, NextStages(StageValidate))
	require.Equal(t, []string{StageConvert}, NextStages(StageEnrich))
	require.Equal(t, []string{StagePayerCall}, NextStages(StageConvert))
	require.Equal(t, []string{StageBuildResponse}, NextStages(StagePayerCall))
	require.Equal(t, []string{StageNotifySubscribers}, NextStages(StageBuildResponse))
}

func TestNextStages_UnknownStageReturnsNil(t *testing.T) {
	require.Nil(t, NextStages("does-not-exist"))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(StageAttachments))
	require.True(t, IsTerminal(StageNotifySubscribers))
	require.False(t, IsTerminal(StageParse))
	require.False(t, IsTerminal("does-not-exist"))
}

func TestQueueDestinations_IncludesEveryStageAndDLQ(t *testing.T) {
	destinations := QueueDestinations()
	require.Len(t, destinations, len(Stages)+1)
	require.Contains(t, destinations, DestinationDLQ)
	for _, s := range Stages {
		require.Contains(t, destinations, s)
	}
}

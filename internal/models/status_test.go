package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversionStatusWalksEveryStage(t *testing.T) {
	var seen []ConversionStatus
	s := ConversionStatusPending
	for {
		seen = append(seen, s)
		next, ok := s.Next()
		if !ok {
			break
		}
		prev, ok := next.Previous()
		assert.True(t, ok)
		assert.Equal(t, s, prev)
		s = next
	}
	assert.Equal(t, conversionStages, seen)
	assert.Equal(t, ConversionStatusComplete, s)
}

func TestConversionStatusBoundaries(t *testing.T) {
	_, ok := ConversionStatusPending.Previous()
	assert.False(t, ok)
	_, ok = ConversionStatusComplete.Next()
	assert.False(t, ok)
	_, ok = ConversionStatus("bogus").Next()
	assert.False(t, ok)
}

func TestConversionFileStatusPrevious(t *testing.T) {
	prev, ok := ConversionFileStatusConverted.Previous()
	assert.True(t, ok)
	assert.Equal(t, ConversionFileStatusProcessing, prev)

	_, ok = ConversionFileStatusPending.Previous()
	assert.False(t, ok)
}

func TestIntentValid(t *testing.T) {
	assert.True(t, IntentUnknown.Valid())
	assert.True(t, IntentConvertK8sToHelm.Valid())
	assert.False(t, Intent("summarize").Valid())
}

func TestPlanStatusPrevious(t *testing.T) {
	prev, ok := PlanStatusReview.Previous()
	assert.True(t, ok)
	assert.Equal(t, PlanStatusPending, prev)

	prev, ok = PlanStatusApplied.Previous()
	assert.True(t, ok)
	assert.Equal(t, PlanStatusApplying, prev)

	for _, s := range []PlanStatus{PlanStatusPending, PlanStatusApplying, PlanStatusIgnored, "bogus"} {
		_, ok := s.Previous()
		assert.False(t, ok, s)
	}
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Number(t *testing.T) {
	f, err := Normalize(NumberValue(42.5))
	require.NoError(t, err)
	assert.Equal(t, 42.5, f)
}

func TestNormalize_AggregateUsesMidpoint(t *testing.T) {
	f, err := Normalize(AggregateValue(10.0, 20.0, 30.0))
	require.NoError(t, err)
	assert.Equal(t, 20.0, f)
}

func TestNormalize_NestedUsesFMeasure(t *testing.T) {
	f, err := Normalize(NestedValue(map[string]float64{
		"precision": 0.9,
		"recall":    0.5,
		"fmeasure":  0.6428,
	}))
	require.NoError(t, err)
	assert.Equal(t, 0.6428, f)
}

func TestNormalize_EmptyValueFails(t *testing.T) {
	_, err := Normalize(Value{})
	require.Error(t, err)

	var shapeErr *ErrUnrecognizedShape
	require.ErrorAs(t, err, &shapeErr)
	assert.Contains(t, shapeErr.Error(), "unrecognized score shape")
}

func TestNormalize_MultipleVariantsFail(t *testing.T) {
	// A value with two variants set is corrupt, not ambiguous: fail loudly.
	v := NumberValue(1.0)
	v.Nested = map[string]float64{"fmeasure": 2.0}

	_, err := Normalize(v)
	var shapeErr *ErrUnrecognizedShape
	require.ErrorAs(t, err, &shapeErr)
}

func TestNormalize_NestedMissingFMeasureFails(t *testing.T) {
	_, err := Normalize(NestedValue(map[string]float64{"precision": 0.5}))
	var shapeErr *ErrUnrecognizedShape
	require.ErrorAs(t, err, &shapeErr)
	assert.Contains(t, shapeErr.Error(), "fmeasure")
}

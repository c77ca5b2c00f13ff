package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	for _, kind := range []string{"", "auto", "CPU", "gpu"} {
		t.Run(kind, func(t *testing.T) {
			d, err := Resolve(kind, 3)
			require.NoError(t, err)
			assert.Equal(t, CPU, d.Kind)
			assert.Equal(t, 3, d.Workers)
			assert.NotEmpty(t, d.Name)
			assert.Contains(t, d.String(), "cpu")
		})
	}
}

func TestResolveDefaultsWorkers(t *testing.T) {
	d, err := Resolve("cpu", 0)
	require.NoError(t, err)
	assert.Positive(t, d.Workers)
}

func TestResolveUnknownKind(t *testing.T) {
	_, err := Resolve("tpu", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

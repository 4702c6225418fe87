package stage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextFollowsPipelineOrder(t *testing.T) {
	t.Parallel()

	order := []Stage{SinUbicacion, Cria, Engorde, Matadero, Secadero, Distribucion, Finalizado}
	for i := 0; i < len(order)-1; i++ {
		got, ok := Next(order[i])
		require.True(t, ok, "stage %s must have a successor", order[i])
		require.Equal(t, order[i+1], got)
	}

	_, ok := Next(Finalizado)
	require.False(t, ok, "finalizado is terminal")

	_, ok = Next(Stage("bodega"))
	require.False(t, ok)
}

func TestParse(t *testing.T) {
	t.Parallel()

	s, err := Parse("secadero")
	require.NoError(t, err)
	require.Equal(t, Secadero, s)

	_, err = Parse("SECADERO")
	require.Error(t, err)

	_, err = Parse("")
	require.Error(t, err)
}

func TestParsePhysicalRejectsVirtualStages(t *testing.T) {
	t.Parallel()

	for _, s := range Physical() {
		got, err := ParsePhysical(string(s))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	_, err := ParsePhysical("sinUbicacion")
	require.Error(t, err)

	_, err = ParsePhysical("finalizado")
	require.Error(t, err)
}

// Package stage models the fixed production pipeline a lot walks through.
// The ordering lives in an explicit adjacency table so an illegal transition
// is a failed map lookup, not an index computation over a slice.
package stage

import "fmt"

// Stage is one step of the production pipeline. SinUbicacion and Finalizado
// are virtual endpoints: they appear in aggregate views and transition
// checks but are never persisted as a Zone stage.
type Stage string

const (
	SinUbicacion Stage = "sinUbicacion"
	Cria         Stage = "cria"
	Engorde      Stage = "engorde"
	Matadero     Stage = "matadero"
	Secadero     Stage = "secadero"
	Distribucion Stage = "distribucion"
	Finalizado   Stage = "finalizado"
)

var next = map[Stage]Stage{
	SinUbicacion: Cria,
	Cria:         Engorde,
	Engorde:      Matadero,
	Matadero:     Secadero,
	Secadero:     Distribucion,
	Distribucion: Finalizado,
}

// Next returns the only stage reachable from s. The second return is false
// for Finalizado (terminal) and for unknown values.
func Next(s Stage) (Stage, bool) {
	n, ok := next[s]
	return n, ok
}

// Physical lists the stages a Zone may be tagged with, in pipeline order.
func Physical() []Stage {
	return []Stage{Cria, Engorde, Matadero, Secadero, Distribucion}
}

// IsPhysical reports whether s may be assigned to a persisted Zone.
func IsPhysical(s Stage) bool {
	switch s {
	case Cria, Engorde, Matadero, Secadero, Distribucion:
		return true
	}
	return false
}

// Parse validates a raw stage value coming from the API or the database.
func Parse(raw string) (Stage, error) {
	s := Stage(raw)
	switch s {
	case SinUbicacion, Cria, Engorde, Matadero, Secadero, Distribucion, Finalizado:
		return s, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}

// ParsePhysical validates a raw stage value that must be assignable to a Zone.
func ParsePhysical(raw string) (Stage, error) {
	s, err := Parse(raw)
	if err != nil {
		return "", err
	}
	if !IsPhysical(s) {
		return "", fmt.Errorf("stage %q cannot be assigned to a zone", raw)
	}
	return s, nil
}

func (s Stage) String() string {
	return string(s)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/dehesalabs/trazar/domains/movements/be/repo"
	"github.com/dehesalabs/trazar/platform/go/metrics"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input validation problems surfaced by the engine.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// InvalidTransitionError rejects a move that skips or reverses stages.
type InvalidTransitionError struct {
	From stage.Stage
	To   stage.Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Domain-level error sentinel values.
var (
	ErrLotNotFound  = errors.New("lot not found")
	ErrZoneNotFound = errors.New("zone not found")
	// ErrConflict surfaces a ledger invariant race: a concurrent move beat
	// this one to the lot's open stay.
	ErrConflict = errors.New("concurrent move detected")
)

// SubLotSpec describes one child lot to carve out during the move.
type SubLotSpec struct {
	Name   string
	Pieces int
}

// MoveInput is the engine's command. Finalize and ZoneID are mutually
// exclusive; exactly one must be set.
type MoveInput struct {
	ZoneID     *uuid.UUID
	Finalize   bool
	EntryTime  time.Time
	SubLots    []SubLotSpec
	GenerateQR bool
}

// SubLotResult pairs a created child lot with its opened stay.
type SubLotResult struct {
	Lot  persistence.Lot
	Stay persistence.Stay
}

// MoveResult reports everything a successful move changed.
type MoveResult struct {
	Lot       persistence.Lot
	Stay      *persistence.Stay
	SubLots   []SubLotResult
	Snapshots []persistence.SnapshotRecord
}

// Config tunes engine policy.
type Config struct {
	// SnapshotParentOnSplit also certifies the parent lot when a move both
	// splits and requests QR generation. Default is sublots only.
	SnapshotParentOnSplit bool
}

// Service executes stage transitions.
type Service interface {
	Move(ctx context.Context, lotID uuid.UUID, input MoveInput) (MoveResult, error)
}

type service struct {
	repo domainrepo.Repository
	cfg  Config
}

// New builds the stage-transition engine backed by the provided repository.
func New(repo domainrepo.Repository, cfg Config) Service {
	return &service{repo: repo, cfg: cfg}
}

/// Move validates and executes one stage transition as a single transaction:
// stage adjacency check, close-then-open on the stay ledger, optional
// uniform sublot splitting and optional QR snapshot generation. Any error
// rolls the whole move back.
func (s *service) Move(ctx context.Context, lotID uuid.UUID, input MoveInput) (MoveResult, error) {
	specs, err := validateInput(input)
	if err != nil {
		metrics.MovesTotal.WithLabelValues("validation").Inc()
		return MoveResult{}, err
	}

	var result MoveResult
	err = s.repo.InMoveTx(ctx, func(ops domainrepo.MoveOps) error {
		moved, moveErr := s.execute(ctx, ops, lotID, input, specs)
		if moveErr != nil {
			return moveErr
		}
		result = moved
		return nil
	})
	if err != nil {
		metrics.MovesTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return MoveResult{}, err
	}

	metrics.MovesTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (s *service) execute(ctx context.Context, ops domainrepo.MoveOps, lotID uuid.UUID, input MoveInput, specs []SubLotSpec) (MoveResult, error) {
	lot, err := ops.Lot(ctx, lotID)
	if err != nil {
		if errors.Is(err, persistence.ErrLotNotFound) {
			return MoveResult{}, ErrLotNotFound
		}
		return MoveResult{}, err
	}

	current, err := s.currentStage(ctx, ops, lot)
	if err != nil {
		return MoveResult{}, err
	}

	target := stage.Finalizado
	var targetZone persistence.Zone
	if !input.Finalize {
		targetZone, err = ops.Zone(ctx, *input.ZoneID)
		if err != nil {
			if errors.Is(err, persistence.ErrZoneNotFound) {
				return MoveResult{}, ErrZoneNotFound
			}
			return MoveResult{}, err
		}
		if !targetZone.IsActive {
			return MoveResult{}, &ValidationError{Fields: FieldErrors{"zoneId": []string{"zone is not active"}}}
		}
		target = targetZone.Stage
	}

	if next, ok := stage.Next(current); !ok || next != target {
		return MoveResult{}, &InvalidTransitionError{From: current, To: target}
	}

	result := MoveResult{Lot: lot}

	// Close the outgoing stay first. sinUbicacion has nothing to close.
	if current != stage.SinUbicacion {
		if _, err := ops.CloseStay(ctx, lot.LotID, input.EntryTime); err != nil {
			if errors.Is(err, persistence.ErrNoOpenStay) {
				return MoveResult{}, ErrConflict
			}
			return MoveResult{}, err
		}
	}

	if input.Finalize {
		finished, err := ops.FinishLot(ctx, lot.LotID)
		if err != nil {
			return MoveResult{}, err
		}
		result.Lot = finished

		if input.GenerateQR {
			record, err := ops.GenerateSnapshot(ctx, lot.LotID)
			if err != nil {
				return MoveResult{}, err
			}
			result.Snapshots = append(result.Snapshots, record)
		}
		return result, nil
	}

	// Splitting adds sibling sublots; the parent keeps its own presence in
	// the target zone.
	subLots := make([]persistence.Lot, 0, len(specs))
	for _, spec := range specs {
		child, err := ops.CreateSubLot(ctx, persistence.CreateLotParams{
			LotID:          uuid.New(),
			Identification: fmt.Sprintf("%s-%s", lot.Identification, spec.Name),
			InitialCount:   spec.Pieces,
			Regime:         lot.Regime,
			IberianPct:     lot.IberianPct,
			ParentLotID:    &lot.LotID,
			PieceType:      &spec.Name,
		})
		if err != nil {
			return MoveResult{}, err
		}
		subLots = append(subLots, child)
	}

	// Snapshots are generated between close and open so the certificate
	// covers exactly the completed phases, not the stay being opened now.
	if input.GenerateQR {
		targets := []uuid.UUID{lot.LotID}
		if len(subLots) > 0 {
			targets = targets[:0]
			for _, child := range subLots {
				targets = append(targets, child.LotID)
			}
			if s.cfg.SnapshotParentOnSplit {
				targets = append(targets, lot.LotID)
			}
		}
		for _, id := range targets {
			record, err := ops.GenerateSnapshot(ctx, id)
			if err != nil {
				return MoveResult{}, err
			}
			result.Snapshots = append(result.Snapshots, record)
		}
	}

	stay, err := ops.OpenStay(ctx, lot.LotID, targetZone.ZoneID, input.EntryTime)
	if err != nil {
		if errors.Is(err, persistence.ErrStayConflict) {
			return MoveResult{}, ErrConflict
		}
		return MoveResult{}, err
	}
	result.Stay = &stay

	for _, child := range subLots {
		childStay, err := ops.OpenStay(ctx, child.LotID, targetZone.ZoneID, input.EntryTime)
		if err != nil {
			return MoveResult{}, err
		}
		result.SubLots = append(result.SubLots, SubLotResult{Lot: child, Stay: childStay})
	}

	return result, nil
}

// currentStage resolves the lot's position in the pipeline: the stage of its
// open stay's zone, sinUbicacion when unplaced, finalizado when finished.
func (s *service) currentStage(ctx context.Context, ops domainrepo.MoveOps, lot persistence.Lot) (stage.Stage, error) {
	if lot.Status == persistence.LotStatusFinished {
		return stage.Finalizado, nil
	}

	stay, err := ops.CurrentStay(ctx, lot.LotID)
	if err != nil {
		return "", err
	}
	if stay == nil {
		return stage.SinUbicacion, nil
	}

	zone, err := ops.Zone(ctx, stay.ZoneID)
	if err != nil {
		return "", err
	}
	return zone.Stage, nil
}

func validateInput(input MoveInput) ([]SubLotSpec, error) {
	errs := FieldErrors{}

	if input.Finalize == (input.ZoneID != nil) {
		errs.add("zoneId", "exactly one of zoneId or finalizado is required")
	}
	if input.EntryTime.IsZero() {
		errs.add("entryTime", "entryTime is required")
	}
	if input.Finalize && len(input.SubLots) > 0 {
		errs.add("subLotes", "splitting is not allowed when finalizing")
	}

	specs := make([]SubLotSpec, 0, len(input.SubLots))
	for _, spec := range input.SubLots {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			errs.add("subLotes", "sublot name is required")
			continue
		}
		if spec.Pieces <= 0 {
			errs.add("subLotes", "sublot pieces must be positive")
			continue
		}
		specs = append(specs, SubLotSpec{Name: name, Pieces: spec.Pieces})
	}
	if len(input.SubLots) > 0 && len(specs) == 0 {
		errs.add("subLotes", "no valid sublot specs provided")
	}

	// A partially valid split is as bad as an empty one: all-or-nothing.
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	return specs, nil
}

func outcomeLabel(err error) string {
	var invalidTransition *InvalidTransitionError
	var validation *ValidationError
	switch {
	case errors.As(err, &invalidTransition):
		return "invalid_transition"
	case errors.As(err, &validation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (f FieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = []string{message}
		return
	}
	f[field] = append(f[field], message)
}

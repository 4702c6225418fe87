package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/dehesalabs/trazar/domains/board/be/repo"
	"github.com/dehesalabs/trazar/platform/go/persistence"
	"github.com/dehesalabs/trazar/platform/go/stage"
)

// BoardZone is a zone entry on the board.
type BoardZone struct {
	ID       uuid.UUID
	Name     string
	IsActive bool
}

// BoardLot is a lot entry on the board. TotalDays counts whole days since the
// current stay's entry time and drives UI coloring only.
type BoardLot struct {
	ID             uuid.UUID
	Identification string
	InitialCount   int
	PieceType      *string
	CurrentZone    *string
	EntryTime      *time.Time
	TotalDays      int
}

// StageBucket groups the zones of one stage with the lots occupying them.
type StageBucket struct {
	Stage stage.Stage
	Zones []BoardZone
	Lots  []BoardLot
}

// Board is the full tracking projection: one bucket per physical stage plus
// the sinUbicacion and finalizado virtual buckets.
type Board struct {
	Stages       []StageBucket
	SinUbicacion []BoardLot
	Finalizado   []BoardLot
}

// Service assembles the tracking board.
type Service interface {
	Board(ctx context.Context) (Board, error)
}

type service struct {
	repo domainrepo.Repository
	now  func() time.Time
}

// New builds a board Service backed by the provided repository.
func New(repo domainrepo.Repository) Service {
	return &service{
		repo: repo,
		now:  time.Now,
	}
}

// NewWithClock is New with an injectable clock, for tests.
func NewWithClock(repo domainrepo.Repository, now func() time.Time) Service {
	return &service{repo: repo, now: now}
}

func (s *service) Board(ctx context.Context) (Board, error) {
	zones, err := s.repo.Zones(ctx)
	if err != nil {
		return Board{}, err
	}
	occupancies, err := s.repo.Occupancies(ctx)
	if err != nil {
		return Board{}, err
	}
	unplaced, err := s.repo.UnplacedActiveLots(ctx)
	if err != nil {
		return Board{}, err
	}
	finished, err := s.repo.FinishedLots(ctx)
	if err != nil {
		return Board{}, err
	}

	now := s.now().UTC()

	buckets := make(map[stage.Stage]*StageBucket, len(stage.Physical()))
	ordered := make([]StageBucket, 0, len(stage.Physical()))
	for _, st := range stage.Physical() {
		ordered = append(ordered, StageBucket{Stage: st, Zones: []BoardZone{}, Lots: []BoardLot{}})
	}
	for i := range ordered {
		buckets[ordered[i].Stage] = &ordered[i]
	}

	for _, zone := range zones {
		bucket, ok := buckets[zone.Stage]
		if !ok {
			continue
		}
		bucket.Zones = append(bucket.Zones, BoardZone{
			ID:       zone.ZoneID,
			Name:     zone.Name,
			IsActive: zone.IsActive,
		})
	}

	for _, occ := range occupancies {
		bucket, ok := buckets[occ.ZoneStage]
		if !ok {
			continue
		}
		zoneName := occ.ZoneName
		entry := occ.Stay.EntryTime
		bucket.Lots = append(bucket.Lots, BoardLot{
			ID:             occ.Lot.LotID,
			Identification: occ.Lot.Identification,
			InitialCount:   occ.Lot.InitialCount,
			PieceType:      occ.Lot.PieceType,
			CurrentZone:    &zoneName,
			EntryTime:      &entry,
			TotalDays:      totalDays(entry, now),
		})
	}

	board := Board{
		Stages:       ordered,
		SinUbicacion: mapPlainLots(unplaced),
		Finalizado:   mapPlainLots(finished),
	}
	return board, nil
}

func totalDays(entry, now time.Time) int {
	days := int(now.Sub(entry).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func mapPlainLots(lots []persistence.Lot) []BoardLot {
	mapped := make([]BoardLot, 0, len(lots))
	for _, lot := range lots {
		mapped = append(mapped, BoardLot{
			ID:             lot.LotID,
			Identification: lot.Identification,
			InitialCount:   lot.InitialCount,
			PieceType:      lot.PieceType,
		})
	}
	return mapped
}

package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// MemoryRepository is an in-memory implementation suitable for engine tests.
// Every InMoveTx call works on a copy of the state and publishes it only when
// the closure succeeds, mirroring the all-or-nothing transaction semantics.
type MemoryRepository struct {
	mu        sync.Mutex
	lots      map[uuid.UUID]persistence.Lot
	zones     map[uuid.UUID]persistence.Zone
	stays     []persistence.Stay
	snapshots []persistence.SnapshotRecord
	now       time.Time
	tokenSeq  int
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		lots:  make(map[uuid.UUID]persistence.Lot),
		zones: make(map[uuid.UUID]persistence.Zone),
		now:   time.Now().UTC(),
	}
}

// SeedLot stores a lot directly, bypassing the engine.
func (r *MemoryRepository) SeedLot(lot persistence.Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lots[lot.LotID] = lot
}

// SeedZone stores a zone directly, bypassing the engine.
func (r *MemoryRepository) SeedZone(zone persistence.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[zone.ZoneID] = zone
}

// Lots returns a snapshot of the stored lots.
func (r *MemoryRepository) Lots() []persistence.Lot {
	r.mu.Lock()
	defer r.mu.Unlock()
	lots := make([]persistence.Lot, 0, len(r.lots))
	for _, lot := range r.lots {
		lots = append(lots, lot)
	}
	return lots
}

// Stays returns a snapshot of the stay ledger.
func (r *MemoryRepository) Stays() []persistence.Stay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persistence.Stay(nil), r.stays...)
}

// Snapshots returns the generated certificates.
func (r *MemoryRepository) Snapshots() []persistence.SnapshotRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persistence.SnapshotRecord(nil), r.snapshots...)
}

// OpenStays counts stays without an exit time for the lot.
func (r *MemoryRepository) OpenStays(lotID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, stay := range r.stays {
		if stay.LotID == lotID && stay.ExitTime == nil {
			count++
		}
	}
	return count
}

func (r *MemoryRepository) InMoveTx(ctx context.Context, fn func(ops MoveOps) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	scratch := &memoryOps{
		lots:      make(map[uuid.UUID]persistence.Lot, len(r.lots)),
		zones:     r.zones,
		stays:     append([]persistence.Stay(nil), r.stays...),
		snapshots: append([]persistence.SnapshotRecord(nil), r.snapshots...),
		now:       r.now,
		tokenSeq:  r.tokenSeq,
	}
	for id, lot := range r.lots {
		scratch.lots[id] = lot
	}

	if err := fn(scratch); err != nil {
		return err
	}

	r.lots = scratch.lots
	r.stays = scratch.stays
	r.snapshots = scratch.snapshots
	r.tokenSeq = scratch.tokenSeq
	return nil
}

type memoryOps struct {
	lots      map[uuid.UUID]persistence.Lot
	zones     map[uuid.UUID]persistence.Zone
	stays     []persistence.Stay
	snapshots []persistence.SnapshotRecord
	now       time.Time
	tokenSeq  int
}

func (o *memoryOps) Lot(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
	lot, ok := o.lots[id]
	if !ok {
		return persistence.Lot{}, persistence.ErrLotNotFound
	}
	return lot, nil
}

func (o *memoryOps) Zone(ctx context.Context, id uuid.UUID) (persistence.Zone, error) {
	zone, ok := o.zones[id]
	if !ok {
		return persistence.Zone{}, persistence.ErrZoneNotFound
	}
	return zone, nil
}

func (o *memoryOps) CurrentStay(ctx context.Context, lotID uuid.UUID) (*persistence.Stay, error) {
	for i := range o.stays {
		if o.stays[i].LotID == lotID && o.stays[i].ExitTime == nil {
			stay := o.stays[i]
			return &stay, nil
		}
	}
	return nil, nil
}

func (o *memoryOps) CloseStay(ctx context.Context, lotID uuid.UUID, exitTime time.Time) (persistence.Stay, error) {
	for i := range o.stays {
		if o.stays[i].LotID == lotID && o.stays[i].ExitTime == nil {
			exit := exitTime
			o.stays[i].ExitTime = &exit
			return o.stays[i], nil
		}
	}
	return persistence.Stay{}, persistence.ErrNoOpenStay
}

func (o *memoryOps) OpenStay(ctx context.Context, lotID, zoneID uuid.UUID, entryTime time.Time) (persistence.Stay, error) {
	for i := range o.stays {
		if o.stays[i].LotID == lotID && o.stays[i].ExitTime == nil {
			return persistence.Stay{}, persistence.ErrStayConflict
		}
	}

	stay := persistence.Stay{
		StayID:    uuid.New(),
		LotID:     lotID,
		ZoneID:    zoneID,
		EntryTime: entryTime,
		CreatedAt: o.now,
	}
	o.stays = append(o.stays, stay)
	return stay, nil
}

func (o *memoryOps) CreateSubLot(ctx context.Context, params persistence.CreateLotParams) (persistence.Lot, error) {
	for _, lot := range o.lots {
		if lot.Identification == params.Identification {
			return persistence.Lot{}, persistence.ErrLotConflict
		}
	}

	lot := persistence.Lot{
		LotID:          params.LotID,
		Identification: params.Identification,
		InitialCount:   params.InitialCount,
		Regime:         params.Regime,
		IberianPct:     params.IberianPct,
		Status:         persistence.LotStatusActive,
		ParentLotID:    params.ParentLotID,
		PieceType:      params.PieceType,
		CustomFields:   params.CustomFields,
		CreatedAt:      o.now,
		UpdatedAt:      o.now,
	}
	o.lots[lot.LotID] = lot
	return lot, nil
}

func (o *memoryOps) FinishLot(ctx context.Context, lotID uuid.UUID) (persistence.Lot, error) {
	lot, ok := o.lots[lotID]
	if !ok {
		return persistence.Lot{}, persistence.ErrLotNotFound
	}
	lot.Status = persistence.LotStatusFinished
	o.lots[lotID] = lot
	return lot, nil
}

func (o *memoryOps) GenerateSnapshot(ctx context.Context, lotID uuid.UUID) (persistence.SnapshotRecord, error) {
	if _, ok := o.lots[lotID]; !ok {
		return persistence.SnapshotRecord{}, persistence.ErrLotNotFound
	}

	o.tokenSeq++
	record := persistence.SnapshotRecord{
		SnapshotID:  uuid.New(),
		LotID:       lotID,
		PublicToken: fmt.Sprintf("token-%04d", o.tokenSeq),
		Data:        json.RawMessage(fmt.Sprintf(`{"lote":{"id":"%s"},"phases":[]}`, lotID)),
		IsActive:    true,
		CreatedAt:   o.now,
	}
	o.snapshots = append(o.snapshots, record)
	return record, nil
}

// Ensure interface compliance.
var (
	_ Repository = (*MemoryRepository)(nil)
	_ MoveOps    = (*memoryOps)(nil)
)

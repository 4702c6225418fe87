package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domainrepo "github.com/dehesalabs/trazar/domains/traceability/be/repo"
	"github.com/dehesalabs/trazar/platform/go/metrics"
	"github.com/dehesalabs/trazar/platform/go/persistence"
)

// snapshotVersion tags the snapshotData wire shape.
const snapshotVersion = 1

// Domain-level error sentinel values.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrLotNotFound      = errors.New("lot not found")
	ErrExpired          = errors.New("snapshot token expired")
	ErrNoHistory        = errors.New("lot has no stay history")
)

// LoteInfo identifies the certified lot on the public certificate.
type LoteInfo struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	IberianPercentage *float64 `json:"iberianPercentage,omitempty"`
	Regime            *string  `json:"regime,omitempty"`
	PieceType         *string  `json:"pieceType,omitempty"`
	ParentLote        *string  `json:"parentLote,omitempty"`
}

// MetricAggregate summarizes one monitored metric over a phase window.
type MetricAggregate struct {
	Avg         float64  `json:"avg"`
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
	PctInTarget *float64 `json:"pctInTarget,omitempty"`
}

// Phase groups the consecutive stays of one stage.
type Phase struct {
	Stage     string                     `json:"stage"`
	Zones     []string                   `json:"zones"`
	StartTime time.Time                  `json:"startTime"`
	EndTime   *time.Time                 `json:"endTime,omitempty"`
	Duration  float64                    `json:"duration"`
	Metrics   map[string]MetricAggregate `json:"metrics"`
}

// Metadata carries generation context on the certificate.
type Metadata struct {
	GeneratedAt  time.Time `json:"generatedAt"`
	Version      int       `json:"version"`
	TotalAnimals *int      `json:"totalAnimals,omitempty"`
	OriginData   *string   `json:"originData,omitempty"`
}

// SnapshotData is the frozen certificate payload. It is computed once at
// generation time and never recalculated.
type SnapshotData struct {
	Lote     LoteInfo `json:"lote"`
	Phases   []Phase  `json:"phases"`
	Metadata Metadata `json:"metadata"`
}

// Snapshot is a persisted certificate plus its resolution state.
type Snapshot struct {
	ID          uuid.UUID
	LotID       uuid.UUID
	PublicToken string
	Data        json.RawMessage
	IsActive    bool
	ScanCount   int64
	CreatedAt   time.Time
}

// Service exposes the traceability snapshot operations.
type Service interface {
	Generate(ctx context.Context, lotID uuid.UUID) (Snapshot, error)
	GenerateTx(ctx context.Context, tx pgx.Tx, lotID uuid.UUID) (persistence.SnapshotRecord, error)
	Resolve(ctx context.Context, token string) (json.RawMessage, error)
	Rotate(ctx context.Context, snapshotID uuid.UUID) (string, error)
	Revoke(ctx context.Context, snapshotID uuid.UUID) error
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]Snapshot, error)
}

type service struct {
	repo domainrepo.Repository
	now  func() time.Time
}

// New builds a traceability Service backed by the provided repository.
func New(repo domainrepo.Repository) Service {
	return &service{
		repo: repo,
		now:  time.Now,
	}
}

// dataSource binds the read and write paths to either the pool or one move
// transaction so generation sees the stays written in the same transaction.
type dataSource struct {
	lot       func(ctx context.Context, id uuid.UUID) (persistence.Lot, error)
	timeline  func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error)
	aggregate func(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error)
	create    func(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error)
}

func (s *service) Generate(ctx context.Context, lotID uuid.UUID) (Snapshot, error) {
	record, err := s.generate(ctx, lotID, dataSource{
		lot:       s.repo.Lot,
		timeline:  s.repo.Timeline,
		aggregate: s.repo.AggregateWindow,
		create:    s.repo.CreateSnapshot,
	})
	if err != nil {
		return Snapshot{}, err
	}
	return mapSnapshot(record), nil
}

func (s *service) GenerateTx(ctx context.Context, tx pgx.Tx, lotID uuid.UUID) (persistence.SnapshotRecord, error) {
	return s.generate(ctx, lotID, dataSource{
		lot: func(ctx context.Context, id uuid.UUID) (persistence.Lot, error) {
			return s.repo.LotTx(ctx, tx, id)
		},
		timeline: func(ctx context.Context, lotIDs []uuid.UUID) ([]persistence.TimelineEntry, error) {
			return s.repo.TimelineTx(ctx, tx, lotIDs)
		},
		aggregate: func(ctx context.Context, zoneID uuid.UUID, from time.Time, to *time.Time) (map[string]persistence.MetricStats, error) {
			return s.repo.AggregateWindowTx(ctx, tx, zoneID, from, to)
		},
		create: func(ctx context.Context, params persistence.CreateSnapshotParams) (persistence.SnapshotRecord, error) {
			return s.repo.CreateSnapshotTx(ctx, tx, params)
		},
	})
}

func (s *service) generate(ctx context.Context, lotID uuid.UUID, src dataSource) (persistence.SnapshotRecord, error) {
	lot, err := src.lot(ctx, lotID)
	if err != nil {
		if errors.Is(err, persistence.ErrLotNotFound) {
			return persistence.SnapshotRecord{}, ErrLotNotFound
		}
		return persistence.SnapshotRecord{}, err
	}

	// A sublot's certificate covers its full production history, so the
	// ancestry chain contributes the stays before the split.
	ancestry, err := s.ancestry(ctx, src, lot)
	if err != nil {
		return persistence.SnapshotRecord{}, err
	}

	entries, err := src.timeline(ctx, ancestry)
	if err != nil {
		return persistence.SnapshotRecord{}, err
	}
	if len(entries) == 0 {
		return persistence.SnapshotRecord{}, ErrNoHistory
	}

	phases, err := s.buildPhases(ctx, src, entries)
	if err != nil {
		return persistence.SnapshotRecord{}, err
	}

	data := SnapshotData{
		Lote:   loteInfo(lot),
		Phases: phases,
		Metadata: Metadata{
			GeneratedAt:  s.now().UTC(),
			Version:      snapshotVersion,
			TotalAnimals: totalAnimals(lot),
		},
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return persistence.SnapshotRecord{}, fmt.Errorf("encode snapshot data: %w", err)
	}

	token, err := newPublicToken()
	if err != nil {
		return persistence.SnapshotRecord{}, err
	}

	record, err := src.create(ctx, persistence.CreateSnapshotParams{
		SnapshotID:  uuid.New(),
		LotID:       lot.LotID,
		PublicToken: token,
		Data:        encoded,
	})
	if err != nil {
		return persistence.SnapshotRecord{}, err
	}

	metrics.SnapshotsGeneratedTotal.Inc()
	return record, nil
}

// ancestry returns the lot chain from root to the given lot.
func (s *service) ancestry(ctx context.Context, src dataSource, lot persistence.Lot) ([]uuid.UUID, error) {
	chain := []uuid.UUID{lot.LotID}
	current := lot
	for current.ParentLotID != nil {
		parent, err := src.lot(ctx, *current.ParentLotID)
		if err != nil {
			return nil, fmt.Errorf("resolve ancestry of %s: %w", lot.LotID, err)
		}
		chain = append([]uuid.UUID{parent.LotID}, chain...)
		current = parent
	}
	return chain, nil
}

// phaseAccumulator folds per-stay statistics before the final avg division.
type phaseAccumulator struct {
	sum        float64
	min        float64
	max        float64
	count      int64
	inTarget   int64
	withTarget int64
}

// buildPhases groups the chronological timeline into per-stage phases and
// aggregates sensor metrics over each stay window.
func (s *service) buildPhases(ctx context.Context, src dataSource, entries []persistence.TimelineEntry) ([]Phase, error) {
	phases := make([]Phase, 0)
	accumulators := make([]map[string]*phaseAccumulator, 0)

	for _, entry := range entries {
		stats, err := src.aggregate(ctx, entry.ZoneID, entry.EntryTime, entry.ExitTime)
		if err != nil {
			return nil, err
		}

		stageName := entry.ZoneStage.String()
		if len(phases) == 0 || phases[len(phases)-1].Stage != stageName {
			phases = append(phases, Phase{
				Stage:     stageName,
				Zones:     []string{},
				StartTime: entry.EntryTime,
				Metrics:   map[string]MetricAggregate{},
			})
			accumulators = append(accumulators, map[string]*phaseAccumulator{})
		}

		last := len(phases) - 1
		if !containsZone(phases[last].Zones, entry.ZoneName) {
			phases[last].Zones = append(phases[last].Zones, entry.ZoneName)
		}
		phases[last].EndTime = entry.ExitTime
		mergeMetrics(accumulators[last], stats)
	}

	now := s.now().UTC()
	for i := range phases {
		end := now
		if phases[i].EndTime != nil {
			end = *phases[i].EndTime
		}
		duration := end.Sub(phases[i].StartTime).Hours() / 24
		if duration < 0 {
			duration = 0
		}
		phases[i].Duration = duration

		for metric, a := range accumulators[i] {
			aggregate := MetricAggregate{
				Avg: a.sum / float64(a.count),
				Min: a.min,
				Max: a.max,
			}
			if a.withTarget > 0 {
				pct := float64(a.inTarget) / float64(a.withTarget) * 100
				aggregate.PctInTarget = &pct
			}
			phases[i].Metrics[metric] = aggregate
		}
	}

	return phases, nil
}

func mergeMetrics(acc map[string]*phaseAccumulator, stats map[string]persistence.MetricStats) {
	for metric, st := range stats {
		if st.Count == 0 {
			continue
		}
		a, ok := acc[metric]
		if !ok {
			a = &phaseAccumulator{min: st.Min, max: st.Max}
			acc[metric] = a
		}
		a.sum += st.Avg * float64(st.Count)
		a.count += st.Count
		if st.Min < a.min {
			a.min = st.Min
		}
		if st.Max > a.max {
			a.max = st.Max
		}
		a.inTarget += st.InTarget
		a.withTarget += st.WithTarget
	}
}

func (s *service) Resolve(ctx context.Context, token string) (json.RawMessage, error) {
	record, err := s.repo.ResolveByToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrSnapshotNotFound):
			metrics.TraceScansTotal.WithLabelValues("not_found").Inc()
			return nil, ErrSnapshotNotFound
		case errors.Is(err, persistence.ErrSnapshotRevoked):
			metrics.TraceScansTotal.WithLabelValues("revoked").Inc()
			return nil, ErrExpired
		default:
			return nil, err
		}
	}

	metrics.TraceScansTotal.WithLabelValues("ok").Inc()
	return record.Data, nil
}

func (s *service) Rotate(ctx context.Context, snapshotID uuid.UUID) (string, error) {
	token, err := newPublicToken()
	if err != nil {
		return "", err
	}

	record, err := s.repo.RotateToken(ctx, snapshotID, token)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrSnapshotNotFound):
			return "", ErrSnapshotNotFound
		case errors.Is(err, persistence.ErrSnapshotRevoked):
			return "", ErrExpired
		default:
			return "", err
		}
	}
	return record.PublicToken, nil
}

func (s *service) Revoke(ctx context.Context, snapshotID uuid.UUID) error {
	if err := s.repo.Revoke(ctx, snapshotID); err != nil {
		if errors.Is(err, persistence.ErrSnapshotNotFound) {
			return ErrSnapshotNotFound
		}
		return err
	}
	return nil
}

func (s *service) ListByLot(ctx context.Context, lotID uuid.UUID) ([]Snapshot, error) {
	records, err := s.repo.ListByLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(records))
	for _, record := range records {
		snapshots = append(snapshots, mapSnapshot(record))
	}
	return snapshots, nil
}

func loteInfo(lot persistence.Lot) LoteInfo {
	info := LoteInfo{
		ID:                lot.LotID.String(),
		Name:              lot.Identification,
		IberianPercentage: lot.IberianPct,
		Regime:            lot.Regime,
		PieceType:         lot.PieceType,
	}
	if lot.ParentLotID != nil {
		parent := lot.ParentLotID.String()
		info.ParentLote = &parent
	}
	return info
}

func totalAnimals(lot persistence.Lot) *int {
	// Sublots count pieces, not animals.
	if lot.ParentLotID != nil {
		return nil
	}
	count := lot.InitialCount
	return &count
}

func containsZone(zones []string, name string) bool {
	for _, zone := range zones {
		if zone == name {
			return true
		}
	}
	return false
}

func newPublicToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate public token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func mapSnapshot(record persistence.SnapshotRecord) Snapshot {
	return Snapshot{
		ID:          record.SnapshotID,
		LotID:       record.LotID,
		PublicToken: record.PublicToken,
		Data:        record.Data,
		IsActive:    record.IsActive,
		ScanCount:   record.ScanCount,
		CreatedAt:   record.CreatedAt,
	}
}

// Package suppression is the Do-Not-Mail gate. A record is suppressed when
// any active entry matches any of its identifiers.
package suppression

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/db"
	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
)

var (
	// ErrNoIdentifier is returned when a query or entry names no identifier.
	ErrNoIdentifier = eris.New("suppression: at least one identifier is required")
	// ErrMissingActor is returned when an add or remove has no actor.
	ErrMissingActor = eris.New("suppression: actor is required")
	// ErrMissingSource is returned when an entry has no source.
	ErrMissingSource = eris.New("suppression: source is required")
	// ErrNotFound is returned for an unknown entry id.
	ErrNotFound = eris.New("suppression: entry not found")
)

const defaultChunkSize = 500

// Gate checks and maintains the DNM registry.
type Gate struct {
	store     store.Store
	chunkSize int
	log       *zap.Logger
}

// New creates a Gate. chunkSize bounds identifiers per bulk lookup; zero
// uses 500.
func New(st store.Store, chunkSize int) *Gate {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Gate{
		store:     st,
		chunkSize: chunkSize,
		log:       zap.L().With(zap.String("component", "suppression")),
	}
}

// AddRequest is a new registry entry.
type AddRequest struct {
	Identifiers model.Identifiers `json:"identifiers"`
	Reason      string            `json:"reason"`
	Source      string            `json:"source"`
	BlockedBy   string            `json:"blocked_by"`
}

// Add registers an active entry.
func (g *Gate) Add(ctx context.Context, req AddRequest) (*model.DnmEntry, error) {
	if req.Identifiers.Empty() {
		return nil, ErrNoIdentifier
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, ErrMissingSource
	}
	if strings.TrimSpace(req.BlockedBy) == "" {
		return nil, ErrMissingActor
	}

	ids := req.Identifiers
	if ids.RadarID != nil && *ids.RadarID == "" {
		ids.RadarID = nil
	}
	e := &model.DnmEntry{
		LoanID:     ids.LoanID,
		PropertyID: ids.PropertyID,
		RadarID:    ids.RadarID,
		Reason:     req.Reason,
		Source:     req.Source,
		BlockedBy:  req.BlockedBy,
	}
	if err := g.store.InsertDnm(ctx, e); err != nil {
		return nil, eris.Wrap(err, "suppression: add entry")
	}
	g.log.Info("dnm entry added",
		zap.Int64("dnm_id", e.ID),
		zap.String("source", e.Source),
		zap.String("blocked_by", e.BlockedBy),
	)
	return e, nil
}

// Remove soft-deletes an entry, recording who lifted the block. Removing an
// inactive entry changes nothing and reports false.
func (g *Gate) Remove(ctx context.Context, id int64, removedBy string) (bool, error) {
	if strings.TrimSpace(removedBy) == "" {
		return false, ErrMissingActor
	}
	ok, err := g.store.DeactivateDnm(ctx, id, removedBy)
	if errors.Is(err, store.ErrNotFound) {
		return false, eris.Wrapf(ErrNotFound, "suppression: entry %d", id)
	}
	if err != nil {
		return false, eris.Wrapf(err, "suppression: remove entry %d", id)
	}
	if ok {
		g.log.Info("dnm entry removed", zap.Int64("dnm_id", id), zap.String("removed_by", removedBy))
	}
	return ok, nil
}

// Get returns an entry, active or not.
func (g *Gate) Get(ctx context.Context, id int64) (*model.DnmEntry, error) {
	e, err := g.store.GetDnm(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "suppression: get entry %d", id)
	}
	if e == nil {
		return nil, eris.Wrapf(ErrNotFound, "suppression: entry %d", id)
	}
	return e, nil
}

// List returns entries matching filter.
func (g *Gate) List(ctx context.Context, filter store.DnmFilter) ([]model.DnmEntry, error) {
	entries, err := g.store.ListDnm(ctx, filter)
	return entries, eris.Wrap(err, "suppression: list entries")
}

// IsSuppressed reports whether any active entry matches any of ids. An empty
// identifier set is a caller error.
func (g *Gate) IsSuppressed(ctx context.Context, ids model.Identifiers) (bool, error) {
	if ids.Empty() {
		return false, ErrNoIdentifier
	}
	n, err := g.store.CountActiveDnm(ctx, ids)
	if err != nil {
		return false, eris.Wrap(err, "suppression: check identifiers")
	}
	return n > 0, nil
}

// MatchSet holds the identifiers found in the active registry.
type MatchSet struct {
	loans      map[int64]struct{}
	properties map[int64]struct{}
	radar      map[string]struct{}
}

func newMatchSet() *MatchSet {
	return &MatchSet{
		loans:      make(map[int64]struct{}),
		properties: make(map[int64]struct{}),
		radar:      make(map[string]struct{}),
	}
}

func (m *MatchSet) add(e *model.DnmEntry) {
	if e.LoanID != nil {
		m.loans[*e.LoanID] = struct{}{}
	}
	if e.PropertyID != nil {
		m.properties[*e.PropertyID] = struct{}{}
	}
	if e.RadarID != nil && *e.RadarID != "" {
		m.radar[*e.RadarID] = struct{}{}
	}
}

// Matches reports whether any of ids is blocked.
func (m *MatchSet) Matches(ids model.Identifiers) bool {
	if ids.LoanID != nil {
		if _, ok := m.loans[*ids.LoanID]; ok {
			return true
		}
	}
	if ids.PropertyID != nil {
		if _, ok := m.properties[*ids.PropertyID]; ok {
			return true
		}
	}
	if ids.RadarID != nil {
		if _, ok := m.radar[*ids.RadarID]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of blocked identifiers.
func (m *MatchSet) Len() int {
	return len(m.loans) + len(m.properties) + len(m.radar)
}

// Lookup probes the registry for every identifier in idents, chunkSize
// identifiers per query.
func (g *Gate) Lookup(ctx context.Context, idents []model.Identifiers) (*MatchSet, error) {
	keys := collectKeys(idents)
	set := newMatchSet()

	probes := 0
	for _, chunk := range db.Chunk(keys.LoanIDs, g.chunkSize) {
		if err := g.probe(ctx, set, store.DnmKeys{LoanIDs: chunk}); err != nil {
			return nil, err
		}
		probes++
	}
	for _, chunk := range db.Chunk(keys.PropertyIDs, g.chunkSize) {
		if err := g.probe(ctx, set, store.DnmKeys{PropertyIDs: chunk}); err != nil {
			return nil, err
		}
		probes++
	}
	for _, chunk := range db.Chunk(keys.RadarIDs, g.chunkSize) {
		if err := g.probe(ctx, set, store.DnmKeys{RadarIDs: chunk}); err != nil {
			return nil, err
		}
		probes++
	}

	g.log.Debug("dnm lookup",
		zap.Int("identifiers", keys.Len()),
		zap.Int("queries", probes),
		zap.Int("matched", set.Len()),
	)
	return set, nil
}

func (g *Gate) probe(ctx context.Context, set *MatchSet, keys store.DnmKeys) error {
	entries, err := g.store.ActiveDnmMatches(ctx, keys)
	if err != nil {
		return eris.Wrap(err, "suppression: bulk lookup")
	}
	for i := range entries {
		set.add(&entries[i])
	}
	return nil
}

// Suppressed returns the indexes of idents that are blocked.
func (g *Gate) Suppressed(ctx context.Context, idents []model.Identifiers) ([]int, error) {
	set, err := g.Lookup(ctx, idents)
	if err != nil {
		return nil, err
	}
	var out []int
	for i := range idents {
		if set.Matches(idents[i]) {
			out = append(out, i)
		}
	}
	return out, nil
}

func collectKeys(idents []model.Identifiers) store.DnmKeys {
	var keys store.DnmKeys
	seenLoan := make(map[int64]struct{})
	seenProp := make(map[int64]struct{})
	seenRadar := make(map[string]struct{})
	for _, ids := range idents {
		if ids.LoanID != nil {
			if _, ok := seenLoan[*ids.LoanID]; !ok {
				seenLoan[*ids.LoanID] = struct{}{}
				keys.LoanIDs = append(keys.LoanIDs, *ids.LoanID)
			}
		}
		if ids.PropertyID != nil {
			if _, ok := seenProp[*ids.PropertyID]; !ok {
				seenProp[*ids.PropertyID] = struct{}{}
				keys.PropertyIDs = append(keys.PropertyIDs, *ids.PropertyID)
			}
		}
		if ids.RadarID != nil && *ids.RadarID != "" {
			if _, ok := seenRadar[*ids.RadarID]; !ok {
				seenRadar[*ids.RadarID] = struct{}{}
				keys.RadarIDs = append(keys.RadarIDs, *ids.RadarID)
			}
		}
	}
	return keys
}

// Package memory provides the canonical transactional implementation of the
// versioned requirement store. Durable backends wrap it and persist exported
// snapshots after each committed transaction.
package memory

import (
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reqcore/pkg/domain"
)

type (
	Requirement        = domain.Requirement
	RequirementVersion = domain.RequirementVersion
	Relation           = domain.Relation
	Endorsement        = domain.Endorsement
	Change             = domain.Change
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	identities   map[string]Requirement
	versions     map[string][]RequirementVersion // ascending by EffectiveFrom
	relations    map[string]Relation
	endorsements map[string]Endorsement // keyed by version|category|endorser
}

func newMemoryState() memoryState {
	return memoryState{
		identities:   make(map[string]Requirement),
		versions:     make(map[string][]RequirementVersion),
		relations:    make(map[string]Relation),
		endorsements: make(map[string]Endorsement),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.identities {
		cloned.identities[k] = v
	}
	for k, versions := range s.versions {
		cp := make([]RequirementVersion, len(versions))
		for i, v := range versions {
			cp[i] = cloneVersion(v)
		}
		cloned.versions[k] = cp
	}
	for k, rel := range s.relations {
		cloned.relations[k] = rel
	}
	for k, e := range s.endorsements {
		cloned.endorsements[k] = e
	}
	return cloned
}

func cloneVersion(v RequirementVersion) RequirementVersion {
	cp := v
	if v.ReqID != nil {
		id := *v.ReqID
		cp.ReqID = &id
	}
	if v.Fields != nil {
		cp.Fields = make(map[string]any, len(v.Fields))
		for k, val := range v.Fields {
			cp.Fields[k] = val
		}
	}
	return cp
}

func endorsementKey(e Endorsement) string {
	return e.VersionKey().String() + "|" + string(e.Category) + "|" + e.EndorsedBy
}

// Snapshot is the JSON-serializable export of the full store state, used by
// the sqlite and postgres wrappers.
type Snapshot struct {
	Identities   []Requirement        `json:"identities"`
	Versions     []RequirementVersion `json:"versions"`
	Relations    []Relation           `json:"relations"`
	Endorsements []Endorsement        `json:"endorsements"`
}

// Store provides an in-memory transactional store for the requirement domain.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	registry *domain.Registry
	engine   *RulesEngine
	nowFn    func() time.Time
}

// Option customizes store construction.
type Option func(*Store)

// WithNowFunc overrides the transaction clock; tests use synthetic clocks so
// effectiveFrom instants are deterministic.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewStore constructs an in-memory store validating against the supplied
// taxonomy registry and evaluating the rules engine at commit time.
func NewStore(registry *domain.Registry, engine *RulesEngine, opts ...Option) *Store {
	if registry == nil {
		registry = domain.BuiltinRegistry()
	}
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:    newMemoryState(),
		registry: registry,
		engine:   engine,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newID allocates a time-orderable globally unique identity id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

func snapshotFromState(state memoryState) Snapshot {
	var snap Snapshot
	for _, identity := range state.identities {
		snap.Identities = append(snap.Identities, identity)
	}
	sort.Slice(snap.Identities, func(i, j int) bool { return snap.Identities[i].ID < snap.Identities[j].ID })
	for _, versions := range state.versions {
		for _, v := range versions {
			snap.Versions = append(snap.Versions, cloneVersion(v))
		}
	}
	sort.Slice(snap.Versions, func(i, j int) bool {
		if snap.Versions[i].RequirementID != snap.Versions[j].RequirementID {
			return snap.Versions[i].RequirementID < snap.Versions[j].RequirementID
		}
		return snap.Versions[i].EffectiveFrom.Before(snap.Versions[j].EffectiveFrom)
	})
	for _, rel := range state.relations {
		snap.Relations = append(snap.Relations, rel)
	}
	sort.Slice(snap.Relations, func(i, j int) bool { return snap.Relations[i].ID < snap.Relations[j].ID })
	for _, e := range state.endorsements {
		snap.Endorsements = append(snap.Endorsements, e)
	}
	sort.Slice(snap.Endorsements, func(i, j int) bool {
		return endorsementKey(snap.Endorsements[i]) < endorsementKey(snap.Endorsements[j])
	})
	return snap
}

func stateFromSnapshot(snap Snapshot) memoryState {
	state := newMemoryState()
	for _, identity := range snap.Identities {
		state.identities[identity.ID] = identity
	}
	for _, v := range snap.Versions {
		state.versions[v.RequirementID] = append(state.versions[v.RequirementID], cloneVersion(v))
	}
	for id := range state.versions {
		versions := state.versions[id]
		sort.Slice(versions, func(i, j int) bool { return versions[i].EffectiveFrom.Before(versions[j].EffectiveFrom) })
		state.versions[id] = versions
	}
	for _, rel := range snap.Relations {
		state.relations[rel.ID] = rel
	}
	for _, e := range snap.Endorsements {
		state.endorsements[endorsementKey(e)] = e
	}
	return state
}

// Registry exposes the taxonomy the store validates against.
func (s *Store) Registry() *domain.Registry {
	return s.registry
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state    *memoryState
	registry *domain.Registry
	now      time.Time
}

func (s *Store) newView(state *memoryState, now time.Time) TransactionView {
	return transactionView{state: state, registry: s.registry, now: now}
}

// RunInTransaction executes fn within a transactional copy of the store
// state. Mutations are visible to other callers only after the rules engine
// admits the change set; a rejected transaction leaves no new versions.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn().UTC(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := s.newView(&tx.state, tx.now)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(s.newView(&snapshot, s.nowFn().UTC()))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.store.newView(&tx.state, tx.now)
}

// Now returns the transaction instant.
func (tx *transaction) Now() time.Time { return tx.now }

// CreateRequirement allocates a new identity and writes its first version
// atomically. The version's subtype fields are validated against the
// taxonomy before anything is written.
func (tx *transaction) CreateRequirement(typ domain.TypeTag, first RequirementVersion) (Requirement, RequirementVersion, error) {
	if err := tx.store.registry.ValidateFields(typ, first.Fields); err != nil {
		return Requirement{}, RequirementVersion{}, err
	}
	identity := Requirement{
		ID:        newID(),
		Type:      typ,
		CreatedBy: first.ModifiedBy,
		CreatedAt: tx.now,
	}
	if _, exists := tx.state.identities[identity.ID]; exists {
		return Requirement{}, RequirementVersion{}, domain.DuplicateEntityError{Entity: domain.EntityIdentity, Key: identity.ID}
	}
	first.RequirementID = identity.ID
	if first.EffectiveFrom.IsZero() {
		first.EffectiveFrom = tx.now
	}
	first.EffectiveFrom = first.EffectiveFrom.UTC()
	tx.state.identities[identity.ID] = identity
	tx.state.versions[identity.ID] = []RequirementVersion{cloneVersion(first)}
	if payload, err := domain.NewChangePayloadFromValue(identity); err == nil {
		tx.recordChange(Change{Entity: domain.EntityIdentity, Action: domain.ActionCreate, After: payload})
	}
	if payload, err := domain.NewChangePayloadFromValue(first); err == nil {
		tx.recordChange(Change{Entity: domain.EntityVersion, Action: domain.ActionCreate, After: payload})
	}
	return identity, cloneVersion(first), nil
}

func (tx *transaction) appendOne(id string, version RequirementVersion) (RequirementVersion, error) {
	identity, ok := tx.state.identities[id]
	if !ok {
		return RequirementVersion{}, domain.NotFoundError{Entity: domain.EntityIdentity, ID: id}
	}
	if err := tx.store.registry.ValidateFields(identity.Type, version.Fields); err != nil {
		return RequirementVersion{}, err
	}
	version.RequirementID = id
	if version.EffectiveFrom.IsZero() {
		version.EffectiveFrom = tx.now
	}
	version.EffectiveFrom = version.EffectiveFrom.UTC()

	versions := tx.state.versions[id]
	hasEarlier := false
	for _, existing := range versions {
		if existing.EffectiveFrom.Equal(version.EffectiveFrom) {
			return RequirementVersion{}, domain.ConcurrentWriteError{ID: id, EffectiveFrom: version.EffectiveFrom}
		}
		if existing.EffectiveFrom.Before(version.EffectiveFrom) {
			hasEarlier = true
		}
	}
	if !hasEarlier {
		return RequirementVersion{}, domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
	}

	var before domain.ChangePayload
	if prev, ok := latestAt(versions, version.EffectiveFrom, true); ok {
		if payload, err := domain.NewChangePayloadFromValue(prev); err == nil {
			before = payload
		}
	}
	versions = append(versions, cloneVersion(version))
	sort.Slice(versions, func(i, j int) bool { return versions[i].EffectiveFrom.Before(versions[j].EffectiveFrom) })
	tx.state.versions[id] = versions
	if payload, err := domain.NewChangePayloadFromValue(version); err == nil {
		tx.recordChange(Change{Entity: domain.EntityVersion, Action: domain.ActionCreate, Before: before, After: payload})
	}
	return cloneVersion(version), nil
}

// AppendVersion appends a version to an existing identity.
func (tx *transaction) AppendVersion(id string, version RequirementVersion) (RequirementVersion, error) {
	return tx.appendOne(id, version)
}

// AppendVersionBatch appends one version per identity atomically. All entries
// must share the same effectiveFrom so point-in-time reads observe the batch
// as a single instant. Validation runs for the whole batch before any entry
// is applied; the transactional clone discards partial work on error anyway.
func (tx *transaction) AppendVersionBatch(versions []RequirementVersion) error {
	if len(versions) == 0 {
		return nil
	}
	instant := versions[0].EffectiveFrom
	if instant.IsZero() {
		instant = tx.now
	}
	for _, v := range versions {
		ef := v.EffectiveFrom
		if ef.IsZero() {
			ef = tx.now
		}
		if !ef.Equal(instant) {
			return domain.ValidationError{Msg: "batch versions must share one effectiveFrom"}
		}
	}
	for _, v := range versions {
		if _, err := tx.appendOne(v.RequirementID, v); err != nil {
			return err
		}
	}
	return nil
}

// CreateRelation stores a typed directed edge.
func (tx *transaction) CreateRelation(rel Relation) (Relation, error) {
	if rel.ID == "" {
		rel.ID = newID()
	}
	if _, exists := tx.state.relations[rel.ID]; exists {
		return Relation{}, domain.DuplicateEntityError{Entity: domain.EntityRelation, Key: rel.ID}
	}
	if _, ok := tx.state.identities[rel.Left]; !ok {
		return Relation{}, domain.NotFoundError{Entity: domain.EntityIdentity, ID: rel.Left}
	}
	rel.CreatedAt = tx.now
	tx.state.relations[rel.ID] = rel
	if payload, err := domain.NewChangePayloadFromValue(rel); err == nil {
		tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionCreate, After: payload})
	}
	return rel, nil
}

// DeleteRelation removes a relation edge.
func (tx *transaction) DeleteRelation(id string) error {
	rel, ok := tx.state.relations[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityRelation, ID: id}
	}
	delete(tx.state.relations, id)
	if payload, err := domain.NewChangePayloadFromValue(rel); err == nil {
		tx.recordChange(Change{Entity: domain.EntityRelation, Action: domain.ActionDelete, Before: payload})
	}
	return nil
}

// PutEndorsement upserts the endorsement row keyed by (version, category,
// endorser). Re-endorsement overwrites status rather than duplicating.
func (tx *transaction) PutEndorsement(e Endorsement) (Endorsement, error) {
	versions, ok := tx.state.versions[e.RequirementID]
	if !ok {
		return Endorsement{}, domain.NotFoundError{Entity: domain.EntityIdentity, ID: e.RequirementID}
	}
	e.EffectiveFrom = e.EffectiveFrom.UTC()
	found := false
	for _, v := range versions {
		if v.EffectiveFrom.Equal(e.EffectiveFrom) {
			found = true
			break
		}
	}
	if !found {
		return Endorsement{}, domain.NotFoundError{Entity: domain.EntityVersion, ID: e.VersionKey().String()}
	}
	key := endorsementKey(e)
	prev, existed := tx.state.endorsements[key]
	tx.state.endorsements[key] = e
	action := domain.ActionCreate
	var before domain.ChangePayload
	if existed {
		action = domain.ActionUpdate
		if payload, err := domain.NewChangePayloadFromValue(prev); err == nil {
			before = payload
		}
	}
	if payload, err := domain.NewChangePayloadFromValue(e); err == nil {
		tx.recordChange(Change{Entity: domain.EntityEndorsement, Action: action, Before: before, After: payload})
	}
	return e, nil
}

// latestAt returns the version with the greatest effectiveFrom <= asOf.
// With includeDeleted false a tombstone at that position suppresses the
// result entirely, regardless of earlier live versions.
func latestAt(versions []RequirementVersion, asOf time.Time, includeDeleted bool) (RequirementVersion, bool) {
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.EffectiveFrom.After(asOf) {
			continue
		}
		if v.IsDeleted && !includeDeleted {
			return RequirementVersion{}, false
		}
		return cloneVersion(v), true
	}
	return RequirementVersion{}, false
}

// Now returns the snapshot instant.
func (v transactionView) Now() time.Time { return v.now }

// FindIdentity retrieves a static identity record from the snapshot.
func (v transactionView) FindIdentity(id string) (Requirement, bool) {
	identity, ok := v.state.identities[id]
	return identity, ok
}

// GetAt returns the current version for an identity as of the given instant.
func (v transactionView) GetAt(id string, asOf time.Time) (RequirementVersion, bool) {
	return latestAt(v.state.versions[id], asOf.UTC(), false)
}

// GetAtIncludingDeleted is GetAt without tombstone suppression; conflict and
// rollback logic uses it to inspect deleted history.
func (v transactionView) GetAtIncludingDeleted(id string, asOf time.Time) (RequirementVersion, bool) {
	return latestAt(v.state.versions[id], asOf.UTC(), true)
}

// History returns all versions for an identity in ascending order.
func (v transactionView) History(id string) []RequirementVersion {
	versions := v.state.versions[id]
	out := make([]RequirementVersion, len(versions))
	for i, ver := range versions {
		out[i] = cloneVersion(ver)
	}
	return out
}

// QueryCurrent lazily yields the current version of each identity admitted by
// the filter. Ranging twice restarts the scan from the snapshot.
func (v transactionView) QueryCurrent(asOf time.Time, filter domain.Filter) iter.Seq2[Requirement, RequirementVersion] {
	asOf = asOf.UTC()
	return func(yield func(Requirement, RequirementVersion) bool) {
		for id, identity := range v.state.identities {
			if filter.Type != "" {
				if filter.IncludeSubtypes {
					if !v.registry.IsSubtypeOf(identity.Type, filter.Type) {
						continue
					}
				} else if identity.Type != filter.Type {
					continue
				}
			}
			if filter.Solution != "" && !v.inSolution(id, filter.Solution) {
				continue
			}
			current, ok := latestAt(v.state.versions[id], asOf, false)
			if !ok {
				continue
			}
			if !filter.MatchesState(current.State) {
				continue
			}
			if !yield(identity, current) {
				return
			}
		}
	}
}

func (v transactionView) inSolution(id, solution string) bool {
	for _, rel := range v.state.relations {
		if rel.Type == domain.RelationBelongs && rel.Left == id && rel.Right == solution {
			return true
		}
	}
	return false
}

// ListRelations returns relations matching the filter.
func (v transactionView) ListRelations(filter domain.RelationFilter) []Relation {
	var out []Relation
	for _, rel := range v.state.relations {
		if filter.Matches(rel) {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Endorsements returns the endorsement rows bound to one version.
func (v transactionView) Endorsements(key domain.VersionKey) []Endorsement {
	var out []Endorsement
	for _, e := range v.state.endorsements {
		if e.RequirementID == key.RequirementID && e.EffectiveFrom.Equal(key.EffectiveFrom) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Endorsement) int {
		if c := cmpString(string(a.Category), string(b.Category)); c != 0 {
			return c
		}
		return cmpString(a.EndorsedBy, b.EndorsedBy)
	})
	return out
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

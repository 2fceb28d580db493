package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"reqcore/internal/infra/persistence/memory"
	"reqcore/pkg/domain"
)

// writeRetryAttempts bounds optimistic retries after an effective-from
// collision. The transaction callback re-reads the current version on every
// attempt, so a retry reapplies the operation on top of the winner.
const writeRetryAttempts = 3

// checkEndorserPrefix namespaces endorsements written by automated checks.
const checkEndorserPrefix = "check:"

// gateEndorser owns the pending placeholder rows seeded at submission.
const gateEndorser = "gate"

// Service exposes the transactional requirement lifecycle: creation,
// workflow transitions, endorsements, automated checks, numbering, and
// temporal queries.
type Service struct {
	store    domain.PersistentStore
	registry *domain.Registry
	checks   *CheckOrchestrator
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	clock    Clock
	blobs    BlobStore
}

// NewService constructs a service backed by the supplied store. A nil
// registry falls back to the built-in taxonomy.
func NewService(store domain.PersistentStore, registry *domain.Registry, opts ...Option) *Service {
	if registry == nil {
		registry = domain.BuiltinRegistry()
	}
	s := &Service{
		store:    store,
		registry: registry,
		checks:   NewCheckOrchestrator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine. A nil engine installs the default policy set.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	registry := domain.BuiltinRegistry()
	return NewService(memory.NewStore(registry, engine), registry, opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the taxonomy registry the service validates against.
func (s *Service) Registry() *domain.Registry { return s.registry }

// RegisterChecker adds an automated check to the orchestrator.
func (s *Service) RegisterChecker(c Checker) { s.checks.Register(c) }

// runWrite executes fn transactionally, retrying a bounded number of times
// when another writer claimed the same effective-from instant first.
func (s *Service) runWrite(ctx context.Context, fn func(tx domain.Transaction) error) (Result, error) {
	var res Result
	var err error
	for attempt := 0; attempt < writeRetryAttempts; attempt++ {
		res, err = s.store.RunInTransaction(ctx, fn)
		var conflict domain.ConcurrentWriteError
		if err == nil || !errors.As(err, &conflict) {
			return res, err
		}
	}
	return res, err
}

// CreateRequirementInput carries the initial content for a new requirement.
type CreateRequirementInput struct {
	Type        domain.TypeTag
	Name        string
	Description string
	Fields      map[string]any
	CreatedBy   string
	// Solution optionally scopes the new requirement under a solution id via
	// a belongs relation created in the same transaction.
	Solution string
}

// CreateRequirement allocates a new identity in the proposed state and, when
// a solution is given, scopes it in the same transaction.
func (s *Service) CreateRequirement(ctx context.Context, input CreateRequirementInput) (Requirement, RequirementVersion, Result, error) {
	var identity Requirement
	var version RequirementVersion
	var res Result
	err := s.instrument(ctx, "create_requirement", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			first := RequirementVersion{
				State:       domain.StateProposed,
				Name:        input.Name,
				Description: input.Description,
				Fields:      input.Fields,
				ModifiedBy:  input.CreatedBy,
			}
			var err error
			identity, version, err = tx.CreateRequirement(input.Type, first)
			if err != nil {
				return err
			}
			if input.Solution != "" {
				_, err = tx.CreateRelation(Relation{
					Left:      identity.ID,
					Right:     input.Solution,
					Type:      domain.RelationBelongs,
					CreatedBy: input.CreatedBy,
				})
			}
			return err
		})
		return identity.ID, txErr
	})
	return identity, version, res, err
}

// SubmitForReview moves a proposed requirement into review and seeds one
// pending endorsement row per required category, so reviewers can see what is
// outstanding.
func (s *Service) SubmitForReview(ctx context.Context, id, actor string) (RequirementVersion, Result, error) {
	var appended RequirementVersion
	var res Result
	err := s.instrument(ctx, "submit_for_review", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			identity, ok := view.FindIdentity(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityIdentity, ID: id}
			}
			current, ok := view.GetAt(id, tx.Now())
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
			}
			draft, err := domain.ApplyTransition(current, domain.InputSubmitForReview, actor, tx.Now())
			if err != nil {
				return err
			}
			appended, err = tx.AppendVersion(id, draft)
			if err != nil {
				return err
			}
			required, err := s.registry.RequiredCategories(identity.Type)
			if err != nil {
				return err
			}
			for _, category := range required {
				if _, err := tx.PutEndorsement(Endorsement{
					RequirementID: id,
					EffectiveFrom: appended.EffectiveFrom,
					Category:      category,
					Status:        domain.EndorsementPending,
					EndorsedBy:    gateEndorser,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		return id, txErr
	})
	return appended, res, err
}

// EndorsementInput carries one endorser's verdict for a category.
type EndorsementInput struct {
	RequirementID string
	Category      domain.Category
	Status        domain.EndorsementStatus
	EndorsedBy    string
	Comments      string
}

// RecordEndorsement upserts the endorsement row keyed by the current review
// version, the category, and the endorser. Re-endorsing overwrites the
// earlier verdict of the same endorser; the gate stays idempotent.
func (s *Service) RecordEndorsement(ctx context.Context, input EndorsementInput) (Endorsement, Result, error) {
	var stored Endorsement
	var res Result
	err := s.instrument(ctx, "record_endorsement", func(ctx context.Context) (string, error) {
		if input.Status != domain.EndorsementApproved && input.Status != domain.EndorsementRejected {
			return input.RequirementID, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("status %s is not a verdict", input.Status)}
		}
		if domain.RoleCategory(input.Category) && strings.HasPrefix(input.EndorsedBy, checkEndorserPrefix) {
			return input.RequirementID, domain.ValidationError{Field: "endorsed_by", Msg: fmt.Sprintf("category %s requires a human endorser", input.Category)}
		}
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			_, version, err := reviewVersion(tx.Snapshot(), input.RequirementID)
			if err != nil {
				return err
			}
			now := tx.Now()
			e := Endorsement{
				RequirementID: input.RequirementID,
				EffectiveFrom: version.EffectiveFrom,
				Category:      input.Category,
				Status:        input.Status,
				EndorsedBy:    input.EndorsedBy,
				Comments:      input.Comments,
			}
			switch input.Status {
			case domain.EndorsementApproved:
				e.EndorsedAt = &now
			case domain.EndorsementRejected:
				e.RejectedAt = &now
			}
			stored, err = tx.PutEndorsement(e)
			return err
		})
		return input.RequirementID, txErr
	})
	return stored, res, err
}

// EvaluateEndorsements computes the gate verdict for the requirement's
// current review version without mutating anything.
func (s *Service) EvaluateEndorsements(ctx context.Context, id string) (Verdict, error) {
	verdict := domain.VerdictPending
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		identity, version, err := reviewVersion(view, id)
		if err != nil {
			return err
		}
		verdict, err = EvaluateGate(view, s.registry, identity, version)
		return err
	})
	return verdict, err
}

// FinalizeReview settles a review. All categories approved activates the
// requirement, allocating its requirement id when it never had one; any
// rejection moves it to rejected; anything still pending leaves the review
// untouched.
func (s *Service) FinalizeReview(ctx context.Context, id, actor string) (Verdict, RequirementVersion, Result, error) {
	verdict := domain.VerdictPending
	var settled RequirementVersion
	var res Result
	err := s.instrument(ctx, "finalize_review", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			identity, current, err := reviewVersion(view, id)
			if err != nil {
				return err
			}
			verdict, err = EvaluateGate(view, s.registry, identity, current)
			if err != nil {
				return err
			}
			switch verdict {
			case domain.VerdictPending:
				settled = current
				return nil
			case domain.VerdictAnyRejected:
				draft, err := domain.ApplyTransition(current, domain.InputReject, actor, tx.Now())
				if err != nil {
					return err
				}
				settled, err = tx.AppendVersion(id, draft)
				return err
			default:
				draft, err := domain.ApplyTransition(current, domain.InputApprove, actor, tx.Now())
				if err != nil {
					return err
				}
				if draft.ReqID == nil {
					prefix, ok := s.registry.Prefix(identity.Type)
					if !ok {
						return domain.ValidationError{Type: identity.Type, Msg: "type has no requirement id prefix"}
					}
					ordinal, err := nextOrdinal(view, solutionOf(view, id), prefix, tx.Now())
					if err != nil {
						return err
					}
					reqID := FormatReqID(prefix, ordinal)
					draft.ReqID = &reqID
				}
				settled, err = tx.AppendVersion(id, draft)
				return err
			}
		})
		return id, txErr
	})
	return verdict, settled, res, err
}

// Revise sends an active or rejected requirement back to proposed and applies
// the caller's edits to the new draft. The identity, instant, state, and
// carried requirement id of the draft are fixed; edits touch content only.
func (s *Service) Revise(ctx context.Context, id, actor string, mutate func(draft *RequirementVersion) error) (RequirementVersion, Result, error) {
	var appended RequirementVersion
	var res Result
	err := s.instrument(ctx, "revise_requirement", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			identity, ok := view.FindIdentity(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityIdentity, ID: id}
			}
			current, ok := view.GetAt(id, tx.Now())
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
			}
			draft, err := domain.ApplyTransition(current, domain.InputRevise, actor, tx.Now())
			if err != nil {
				return err
			}
			if mutate != nil {
				pinned := draft
				if err := mutate(&draft); err != nil {
					return err
				}
				draft.RequirementID = pinned.RequirementID
				draft.EffectiveFrom = pinned.EffectiveFrom
				draft.State = pinned.State
				draft.ReqID = pinned.ReqID
				draft.IsDeleted = false
				draft.ModifiedBy = actor
			}
			if err := s.registry.ValidateFields(identity.Type, draft.Fields); err != nil {
				return err
			}
			appended, err = tx.AppendVersion(id, draft)
			return err
		})
		return id, txErr
	})
	return appended, res, err
}

// Remove retires a requirement. Its requirement id is cleared and every
// scope-mate numbered above it shifts down one slot in the same transaction,
// so numbering stays dense at every read instant.
func (s *Service) Remove(ctx context.Context, id, actor string) (RequirementVersion, Result, error) {
	return s.retireVersion(ctx, "remove_requirement", id, actor, func(current RequirementVersion, now time.Time) (RequirementVersion, error) {
		return domain.ApplyTransition(current, domain.InputRemove, actor, now)
	})
}

// DeleteRequirement appends a tombstone version. Point-in-time reads at or
// after the tombstone see nothing; earlier instants still resolve history.
// Like removal, the vacated requirement id slot is closed immediately.
func (s *Service) DeleteRequirement(ctx context.Context, id, actor string) (RequirementVersion, Result, error) {
	return s.retireVersion(ctx, "delete_requirement", id, actor, func(current RequirementVersion, now time.Time) (RequirementVersion, error) {
		draft := current
		draft.IsDeleted = true
		draft.ReqID = nil
		draft.ModifiedBy = actor
		draft.EffectiveFrom = now
		draft.Fields = cloneFields(current.Fields)
		return draft, nil
	})
}

// retireVersion appends a terminal version built by makeDraft and renumbers
// the scope the requirement vacated.
func (s *Service) retireVersion(ctx context.Context, operation, id, actor string, makeDraft func(current RequirementVersion, now time.Time) (RequirementVersion, error)) (RequirementVersion, Result, error) {
	var appended RequirementVersion
	var res Result
	err := s.instrument(ctx, operation, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			current, ok := view.GetAt(id, tx.Now())
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
			}
			solution := solutionOf(view, id)
			draft, err := makeDraft(current, tx.Now())
			if err != nil {
				return err
			}
			appended, err = tx.AppendVersion(id, draft)
			if err != nil {
				return err
			}
			if current.ReqID == nil {
				return nil
			}
			prefix, ordinal, err := ParseReqID(*current.ReqID)
			if err != nil {
				return err
			}
			members, err := scopeMembers(view, solution, prefix, tx.Now())
			if err != nil {
				return err
			}
			batch := renumberAfterRemoval(members, prefix, ordinal, actor, tx.Now())
			if len(batch) == 0 {
				return nil
			}
			return tx.AppendVersionBatch(batch)
		})
		return id, txErr
	})
	return appended, res, err
}

// Restore brings a removed requirement back as a fresh proposal. It carries
// no requirement id; activation allocates a new one.
func (s *Service) Restore(ctx context.Context, id, actor string) (RequirementVersion, Result, error) {
	var appended RequirementVersion
	var res Result
	err := s.instrument(ctx, "restore_requirement", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			current, ok := tx.Snapshot().GetAt(id, tx.Now())
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
			}
			draft, err := domain.ApplyTransition(current, domain.InputRestore, actor, tx.Now())
			if err != nil {
				return err
			}
			appended, err = tx.AppendVersion(id, draft)
			return err
		})
		return id, txErr
	})
	return appended, res, err
}

// ReorderRequirement moves a numbered requirement to a new ordinal within its
// scope. Everything between the old and new slot shifts by one; the whole
// renumbering lands as a single batch at one instant.
func (s *Service) ReorderRequirement(ctx context.Context, id string, newOrdinal int, actor string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "reorder_requirement", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			current, ok := view.GetAt(id, tx.Now())
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
			}
			if current.ReqID == nil {
				return domain.ValidationError{Field: "req_id", Msg: fmt.Sprintf("requirement %s has no requirement id to reorder", id)}
			}
			prefix, _, err := ParseReqID(*current.ReqID)
			if err != nil {
				return err
			}
			members, err := scopeMembers(view, solutionOf(view, id), prefix, tx.Now())
			if err != nil {
				return err
			}
			batch, err := renumberForMove(members, prefix, id, newOrdinal, actor, tx.Now())
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			return tx.AppendVersionBatch(batch)
		})
		return id, txErr
	})
	return res, err
}

// Link creates a typed relation between two entities.
func (s *Service) Link(ctx context.Context, left, right string, typ domain.RelationType, actor string) (Relation, Result, error) {
	var created Relation
	var res Result
	err := s.instrument(ctx, "link_requirement", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateRelation(Relation{Left: left, Right: right, Type: typ, CreatedBy: actor})
			return err
		})
		return created.ID, txErr
	})
	return created, res, err
}

// Unlink removes a relation by id.
func (s *Service) Unlink(ctx context.Context, relationID string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "unlink_requirement", func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			return tx.DeleteRelation(relationID)
		})
		return relationID, txErr
	})
	return res, err
}

// ListRelations returns relations matching the filter.
func (s *Service) ListRelations(ctx context.Context, filter RelationFilter) ([]Relation, error) {
	var out []Relation
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.ListRelations(filter)
		return nil
	})
	return out, err
}

// GetRequirement returns the static identity record.
func (s *Service) GetRequirement(ctx context.Context, id string) (Requirement, error) {
	var identity Requirement
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var ok bool
		identity, ok = view.FindIdentity(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityIdentity, ID: id}
		}
		return nil
	})
	return identity, err
}

// GetAt returns the version current at asOf, honoring tombstone suppression.
func (s *Service) GetAt(ctx context.Context, id string, asOf time.Time) (RequirementVersion, error) {
	var version RequirementVersion
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var ok bool
		version, ok = view.GetAt(id, asOf)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityVersion, ID: id}
		}
		return nil
	})
	return version, err
}

// GetCurrent returns the version current at the store clock's now.
func (s *Service) GetCurrent(ctx context.Context, id string) (RequirementVersion, error) {
	return s.GetAt(ctx, id, s.store.NowFunc()())
}

// History returns every version of the identity in ascending order,
// tombstones included.
func (s *Service) History(ctx context.Context, id string) ([]RequirementVersion, error) {
	var out []RequirementVersion
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindIdentity(id); !ok {
			return domain.NotFoundError{Entity: domain.EntityIdentity, ID: id}
		}
		out = view.History(id)
		return nil
	})
	return out, err
}

// QueryMatch pairs an identity with its version current at the query instant.
type QueryMatch struct {
	Identity Requirement
	Version  RequirementVersion
}

// QueryCurrent materializes the identities admitted by the filter with their
// versions current at asOf, sorted by identity id.
func (s *Service) QueryCurrent(ctx context.Context, asOf time.Time, filter Filter) ([]QueryMatch, error) {
	var out []QueryMatch
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		for identity, version := range view.QueryCurrent(asOf, filter) {
			out = append(out, QueryMatch{Identity: identity, Version: version})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out, nil
}

// Endorsements returns the endorsement rows bound to the requirement's
// current review version.
func (s *Service) Endorsements(ctx context.Context, id string) ([]Endorsement, error) {
	var out []Endorsement
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		_, version, err := reviewVersion(view, id)
		if err != nil {
			return err
		}
		out = view.Endorsements(version.Key())
		return nil
	})
	return out, err
}

// RunChecks fans the requirement's current review version out to all
// registered checkers, waits for every one to settle, and records their
// verdicts as endorsements in a single transaction. The returned results
// include per-check unavailability errors; the call itself fails only when
// the requirement left review while checks ran.
func (s *Service) RunChecks(ctx context.Context, id string) ([]CheckResult, Result, error) {
	var results []CheckResult
	var res Result
	err := s.instrument(ctx, "run_checks", func(ctx context.Context) (string, error) {
		var checked RequirementVersion
		if viewErr := s.store.View(ctx, func(view domain.TransactionView) error {
			var err error
			_, checked, err = reviewVersion(view, id)
			return err
		}); viewErr != nil {
			return id, viewErr
		}

		// Checks run outside the transaction; they may block on external
		// services for a while.
		results = s.checks.Run(ctx, checked)

		var txErr error
		res, txErr = s.runWrite(ctx, func(tx domain.Transaction) error {
			_, current, err := reviewVersion(tx.Snapshot(), id)
			if err != nil {
				return err
			}
			if !current.EffectiveFrom.Equal(checked.EffectiveFrom) {
				return domain.ConcurrentWriteError{ID: id, EffectiveFrom: checked.EffectiveFrom}
			}
			now := tx.Now()
			for _, result := range results {
				e := Endorsement{
					RequirementID: id,
					EffectiveFrom: current.EffectiveFrom,
					Category:      result.Category,
					Status:        result.Status,
					EndorsedBy:    checkEndorserPrefix + string(result.Category),
					Comments:      result.Detail,
				}
				if result.Err != nil {
					e.Comments = result.Err.Error()
				}
				switch result.Status {
				case domain.EndorsementApproved:
					e.EndorsedAt = &now
				case domain.EndorsementRejected:
					e.RejectedAt = &now
				}
				if _, err := tx.PutEndorsement(e); err != nil {
					return err
				}
			}
			return nil
		})
		return id, txErr
	})
	return results, res, err
}

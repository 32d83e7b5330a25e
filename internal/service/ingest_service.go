package service

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/ingest"
	"github.com/spec-kit/lead-service/internal/observability"
	"github.com/spec-kit/lead-service/internal/persistence"
	"github.com/spec-kit/lead-service/internal/policy"
	"github.com/spec-kit/lead-service/internal/repository"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// IngestResult reports a bulk ingestion. Rejected rows never abort the batch.
type IngestResult struct {
	InsertedCount int               `json:"inserted_count"`
	FailedCount   int               `json:"failed_count"`
	Errors        []ingest.RowError `json:"errors"`
}

// IngestService imports leads from decoded tabular rows.
type IngestService struct {
	leads   repository.LeadRepository
	users   repository.UserRepository
	tx      persistence.TxManager
	policy  *policy.Engine
	parser  *ingest.Parser
	metrics *observability.Metrics
	logger  *zap.Logger
	rec     recorder
}

// NewIngestService constructs the service.
func NewIngestService(deps LeadDependencies) *IngestService {
	parser := deps.Parser
	if parser == nil {
		parser = ingest.NewParser(ingest.DefaultOptions())
	}
	rec := newRecorder(deps.Activity, deps.Dispatcher, deps.Metrics, deps.Logger, deps.Clock)
	return &IngestService{
		leads:   deps.LeadRepo,
		users:   deps.UserRepo,
		tx:      deps.Tx,
		policy:  deps.Policy,
		parser:  parser,
		metrics: deps.Metrics,
		logger:  rec.logger,
		rec:     rec,
	}
}

type acceptedRow struct {
	row  int
	lead *domain.Lead
}

// IngestLeads validates every row independently and inserts the survivors
// in one batch. Row numbers in errors start at 1.
func (s *IngestService) IngestLeads(ctx context.Context, actor *domain.Identity, rows []ingest.Row) (*IngestResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, policy.ActionIngest, policy.Resource{}); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewValidationError("no rows to ingest", nil)
	}
	if len(rows) > s.parser.MaxRows() {
		return nil, apperrors.NewValidationError("too many rows", map[string]any{"max_rows": s.parser.MaxRows(), "rows": len(rows)})
	}

	result := &IngestResult{Errors: []ingest.RowError{}}
	candidates := make([]ingest.Candidate, 0, len(rows))
	for i, row := range rows {
		candidate, rowErr := s.parser.Parse(row, i+1)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		candidates = append(candidates, candidate)
	}

	emails := make([]string, 0, len(candidates))
	phones := make([]string, 0, len(candidates))
	for _, c := range candidates {
		emails = append(emails, c.Email)
		phones = append(phones, c.Phone)
	}
	assignees, err := s.users.GetByEmails(ctx, emails)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	taken, err := s.leads.ActivePhones(ctx, phones)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	accepted := make([]acceptedRow, 0, len(candidates))
	inFile := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		assignee, ok := assignees[c.Email]
		switch {
		case !ok:
			result.Errors = append(result.Errors, ingest.RowError{Row: c.Row, Reason: ingest.ReasonUnknownAssignee})
			continue
		case taken[c.Phone]:
			result.Errors = append(result.Errors, ingest.RowError{Row: c.Row, Reason: ingest.ReasonPhoneExists})
			continue
		case inFile[c.Phone]:
			result.Errors = append(result.Errors, ingest.RowError{Row: c.Row, Reason: ingest.ReasonDuplicateInFile})
			continue
		}
		inFile[c.Phone] = true
		source := c.Source
		accepted = append(accepted, acceptedRow{row: c.Row, lead: &domain.Lead{
			Name:       c.Name,
			Phone:      c.Phone,
			Status:     domain.LeadStatusNew,
			Notes:      c.Notes,
			Source:     &source,
			AssignedTo: &assignee.ID,
			LeaderID:   domain.DeriveLeaderID(assignee),
			CreatedBy:  actor.ID,
			UpdatedBy:  &actor.ID,
		}})
	}

	inserted, rowErrs, err := s.insert(ctx, accepted)
	if err != nil {
		return nil, err
	}
	result.Errors = append(result.Errors, rowErrs...)
	sort.SliceStable(result.Errors, func(i, j int) bool { return result.Errors[i].Row < result.Errors[j].Row })
	result.InsertedCount = len(inserted)
	result.FailedCount = len(result.Errors)
	s.metrics.IngestRows(result.InsertedCount, result.FailedCount)

	s.rec.emit(ctx, events.EventLeadsIngested, actor.ID, actor.ID, map[string]any{
		"rows":     len(rows),
		"inserted": result.InsertedCount,
		"failed":   result.FailedCount,
	})
	s.publishAssignments(ctx, actor, inserted)
	return result, nil
}

// insert writes accepted rows as one batch. A phone claimed between the
// pre-check and the insert fails the batch on the unique index; the rows
// are then retried one by one so only the colliding rows are rejected.
func (s *IngestService) insert(ctx context.Context, accepted []acceptedRow) ([]*domain.Lead, []ingest.RowError, error) {
	if len(accepted) == 0 {
		return nil, nil, nil
	}
	batch := make([]*domain.Lead, len(accepted))
	for i, a := range accepted {
		batch[i] = a.lead
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.leads.CreateBatch(ctx, batch)
	})
	if err == nil {
		return batch, nil, nil
	}
	if !errors.Is(err, repository.ErrDuplicatePhone) {
		return nil, nil, apperrors.MapError(err)
	}

	s.logger.Warn("batch insert hit a phone collision, retrying row by row", zap.Int("rows", len(accepted)))
	var (
		inserted []*domain.Lead
		rowErrs  []ingest.RowError
	)
	for _, a := range accepted {
		a.lead.ID = ""
		if err := s.leads.Create(ctx, a.lead); err != nil {
			if errors.Is(err, repository.ErrDuplicatePhone) {
				rowErrs = append(rowErrs, ingest.RowError{Row: a.row, Reason: ingest.ReasonPhoneExists})
				continue
			}
			return nil, nil, apperrors.MapError(err)
		}
		inserted = append(inserted, a.lead)
	}
	return inserted, rowErrs, nil
}

func (s *IngestService) publishAssignments(ctx context.Context, actor *domain.Identity, leads []*domain.Lead) {
	byAssignee := make(map[string][]string)
	leaders := make(map[string]*string)
	var order []string
	for _, lead := range leads {
		id := *lead.AssignedTo
		if _, ok := byAssignee[id]; !ok {
			order = append(order, id)
			leaders[id] = lead.LeaderID
		}
		byAssignee[id] = append(byAssignee[id], lead.ID)
	}
	for _, id := range order {
		s.rec.publish(ctx, events.EventLeadAssigned, actor.ID, id, map[string]any{
			"lead_ids":    byAssignee[id],
			"assigned_to": id,
			"leader_id":   strValue(leaders[id]),
			"source":      ingest.DefaultSource,
		})
	}
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) RecordDefect(ctx context.Context, params store.RecordDefectParams) (*models.ReconciliationDefect, error) {
	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("unable to encode defect payload: %w", err)
	}

	defect := &models.ReconciliationDefect{
		Id:        uuid.New().String(),
		Kind:      params.Kind,
		Reference: params.Reference,
		Payload:   payload,
		Status:    models.DefectOpen,
		CreatedAt: s.now(),
	}

	if _, err := s.db.ExecContext(ctx, queryInsertDefect,
		defect.Id, string(defect.Kind), defect.Reference, string(payload), defect.CreatedAt); err != nil {
		return nil, fmt.Errorf("unable to insert reconciliation defect: %w", err)
	}
	return defect, nil
}

// ListOpenDefects returns up to limit open defects, oldest first, leaving out
// excludeIds.
func (s *Service) ListOpenDefects(ctx context.Context, limit int, excludeIds ...string) ([]models.ReconciliationDefect, error) {
	query := queryListOpenDefects
	args := make([]any, 0, len(excludeIds)+1)
	if len(excludeIds) > 0 {
		query += fmt.Sprintf(" AND id NOT IN (?%s)", strings.Repeat(", ?", len(excludeIds)-1))
		for _, id := range excludeIds {
			args = append(args, id)
		}
	}
	query += queryListOpenDefectsOrder
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query reconciliation defects: %w", err)
	}
	defer closeRows(rows)

	var defects []models.ReconciliationDefect
	for rows.Next() {
		var (
			d          models.ReconciliationDefect
			kind       string
			status     string
			payload    string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&d.Id, &kind, &d.Reference, &payload, &status, &d.Attempts, &d.LastError, &d.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("unable to scan reconciliation defect row: %w", err)
		}
		d.Kind = models.DefectKind(kind)
		d.Status = models.DefectStatus(status)
		d.Payload = json.RawMessage(payload)
		if resolvedAt.Valid {
			at := resolvedAt.Time
			d.ResolvedAt = &at
		}
		defects = append(defects, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation defect rows: %w", err)
	}
	return defects, nil
}

func (s *Service) ResolveDefect(ctx context.Context, defectId string) error {
	if _, err := s.db.ExecContext(ctx, queryResolveDefect, s.now(), defectId); err != nil {
		return fmt.Errorf("unable to resolve reconciliation defect: %w", err)
	}
	zap.L().Info("Reconciliation defect resolved", zap.String("defect_id", defectId))
	return nil
}

func (s *Service) RecordDefectAttempt(ctx context.Context, defectId string, attemptErr error, abandon bool) error {
	status := models.DefectOpen
	if abandon {
		status = models.DefectAbandoned
	}
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}

	if _, err := s.db.ExecContext(ctx, queryRecordDefectAttempt, msg, string(status), defectId); err != nil {
		return fmt.Errorf("unable to record defect attempt: %w", err)
	}
	return nil
}

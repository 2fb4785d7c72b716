package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MutationAuditEntry is an append-only audit event for a state-changing API call.
type MutationAuditEntry struct {
	RequestID      string
	OrgID          uuid.UUID
	ActorAccountID string
	ActorRole      string
	HTTPMethod     string
	Endpoint       string
	Operation      string
	ResourceType   string
	ResourceID     string
	BeforeData     any
	AfterData      any
	Metadata       map[string]any
}

// InsertMutationAudit appends a mutation audit event. The target table is immutable.
func (db *DB) InsertMutationAudit(ctx context.Context, e MutationAuditEntry) error {
	beforeJSON, afterJSON, metaJSON, err := marshalAuditEntry(&e)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx, insertMutationAuditSQL,
		e.RequestID, e.OrgID, e.ActorAccountID, e.ActorRole,
		e.HTTPMethod, e.Endpoint, e.Operation, e.ResourceType, e.ResourceID,
		beforeJSON, afterJSON, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert mutation audit: %w", err)
	}
	return nil
}

// InsertMutationAuditTx appends a mutation audit event inside an existing
// transaction, so the audit row commits or rolls back with the mutation it
// describes.
func InsertMutationAuditTx(ctx context.Context, tx pgx.Tx, e MutationAuditEntry) error {
	beforeJSON, afterJSON, metaJSON, err := marshalAuditEntry(&e)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, insertMutationAuditSQL,
		e.RequestID, e.OrgID, e.ActorAccountID, e.ActorRole,
		e.HTTPMethod, e.Endpoint, e.Operation, e.ResourceType, e.ResourceID,
		beforeJSON, afterJSON, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert mutation audit: %w", err)
	}
	return nil
}

const insertMutationAuditSQL = `
	INSERT INTO mutation_audit_log (
	    request_id, org_id, actor_account_id, actor_role,
	    http_method, endpoint, operation, resource_type, resource_id,
	    before_data, after_data, metadata
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12::jsonb)`

func marshalAuditEntry(e *MutationAuditEntry) (beforeJSON, afterJSON, metaJSON []byte, err error) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.BeforeData != nil {
		beforeJSON, err = json.Marshal(e.BeforeData)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: marshal mutation audit before_data: %w", err)
		}
	}
	if e.AfterData != nil {
		afterJSON, err = json.Marshal(e.AfterData)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: marshal mutation audit after_data: %w", err)
		}
	}
	metaJSON, err = json.Marshal(e.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal mutation audit metadata: %w", err)
	}
	return beforeJSON, afterJSON, metaJSON, nil
}

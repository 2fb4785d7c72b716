package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/musubi/internal/model"
)

const accountColumns = `id, account_id, org_id, name, role, caregiver_id, api_key_hash, active, created_at, updated_at`

// CreateAccount inserts a new account.
func (db *DB) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	fillAccountDefaults(&account)

	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		account.ID, account.AccountID, account.OrgID, account.Name, string(account.Role),
		account.CaregiverID, account.APIKeyHash, account.Active, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.Account{}, model.NewConflict("account %s already exists in this organization", account.AccountID)
		}
		return model.Account{}, fmt.Errorf("storage: create account: %w", err)
	}
	return account, nil
}

// CreateAccountWithAudit inserts a new account and a mutation audit entry
// atomically within a single transaction.
func (db *DB) CreateAccountWithAudit(ctx context.Context, account model.Account, audit MutationAuditEntry) (model.Account, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Account{}, fmt.Errorf("storage: begin create account tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fillAccountDefaults(&account)

	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		account.ID, account.AccountID, account.OrgID, account.Name, string(account.Role),
		account.CaregiverID, account.APIKeyHash, account.Active, account.CreatedAt, account.UpdatedAt,
	); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.Account{}, model.NewConflict("account %s already exists in this organization", account.AccountID)
		}
		return model.Account{}, fmt.Errorf("storage: create account: %w", err)
	}

	audit.ResourceID = account.AccountID
	audit.AfterData = account
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.Account{}, fmt.Errorf("storage: audit in create account tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Account{}, fmt.Errorf("storage: commit create account tx: %w", err)
	}
	return account, nil
}

// GetAccountsByAccountIDGlobal returns all accounts with the given account_id
// across all orgs. Used ONLY for authentication (token issuance) where org_id
// isn't known yet. Returns all matches so the caller can verify credentials
// against each one, preventing cross-tenant confusion when account_ids
// collide across orgs.
func (db *DB) GetAccountsByAccountIDGlobal(ctx context.Context, accountID string) ([]model.Account, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts WHERE account_id = $1 AND active
		 ORDER BY created_at ASC`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get accounts by account_id: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccountFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get accounts by account_id: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("storage: account %s: %w", accountID, ErrNotFound)
	}
	return accounts, nil
}

// GetAccountByAccountID retrieves an account by account_id within an org.
func (db *DB) GetAccountByAccountID(ctx context.Context, orgID uuid.UUID, accountID string) (model.Account, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts WHERE org_id = $1 AND account_id = $2`, orgID, accountID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, model.NewNotFound("account", accountID)
		}
		return model.Account{}, fmt.Errorf("storage: get account: %w", err)
	}
	return a, nil
}

// GetAccountByID retrieves an account by its internal UUID, scoped to an org
// for tenant isolation.
func (db *DB) GetAccountByID(ctx context.Context, id, orgID uuid.UUID) (model.Account, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts WHERE id = $1 AND org_id = $2`, id, orgID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, model.NewNotFound("account", id.String())
		}
		return model.Account{}, fmt.Errorf("storage: get account by id: %w", err)
	}
	return a, nil
}

// ListAccounts returns accounts within an org with pagination.
// limit is clamped to [1, 1000] with a default of 200; offset must be non-negative.
func (db *DB) ListAccounts(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.Account, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts WHERE org_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		orgID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccountFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountKeyHash replaces the stored credential hash for an account.
// Used by key rotation.
func (db *DB) UpdateAccountKeyHash(ctx context.Context, orgID uuid.UUID, accountID, keyHash string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE accounts SET api_key_hash = $1, updated_at = now()
		 WHERE org_id = $2 AND account_id = $3`,
		keyHash, orgID, accountID,
	)
	if err != nil {
		return fmt.Errorf("storage: update account key hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("account", accountID)
	}
	return nil
}

// SetAccountActive toggles an account's active flag. Inactive accounts fail
// authentication but keep their history references intact.
func (db *DB) SetAccountActive(ctx context.Context, orgID uuid.UUID, accountID string, active bool) (model.Account, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE accounts SET active = $1, updated_at = now()
		 WHERE org_id = $2 AND account_id = $3
		 RETURNING `+accountColumns,
		active, orgID, accountID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, model.NewNotFound("account", accountID)
		}
		return model.Account{}, fmt.Errorf("storage: set account active: %w", err)
	}
	return a, nil
}

// CountAccounts returns the number of registered accounts in an org.
func (db *DB) CountAccounts(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE org_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count accounts: %w", err)
	}
	return count, nil
}

// CountAccountsGlobal returns the total number of accounts across all organizations.
func (db *DB) CountAccountsGlobal(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count accounts global: %w", err)
	}
	return count, nil
}

// EnsureDefaultOrg creates the nil-UUID default organization if it does not
// exist. The seed admin and single-tenant deployments hang off this org.
func (db *DB) EnsureDefaultOrg(ctx context.Context) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, slug, created_at, updated_at)
		 VALUES ($1, 'Default Organization', 'default', now(), now())
		 ON CONFLICT (id) DO NOTHING`,
		uuid.Nil,
	)
	if err != nil {
		return fmt.Errorf("storage: ensure default org: %w", err)
	}
	return nil
}

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, slug, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, org.Slug, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return model.Organization{}, model.NewConflict("organization slug %q is taken", org.Slug)
		}
		return model.Organization{}, fmt.Errorf("storage: create organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an org by ID.
func (db *DB) GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Organization{}, model.NewNotFound("organization", id.String())
		}
		return model.Organization{}, fmt.Errorf("storage: get organization: %w", err)
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an org by slug.
func (db *DB) GetOrganizationBySlug(ctx context.Context, slug string) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM organizations WHERE slug = $1`, slug,
	).Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Organization{}, model.NewNotFound("organization", slug)
		}
		return model.Organization{}, fmt.Errorf("storage: get organization by slug: %w", err)
	}
	return org, nil
}

func fillAccountDefaults(account *model.Account) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID, &a.AccountID, &a.OrgID, &a.Name, &a.Role,
		&a.CaregiverID, &a.APIKeyHash, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func scanAccountFromRows(rows pgx.Rows) (model.Account, error) {
	var a model.Account
	err := rows.Scan(
		&a.ID, &a.AccountID, &a.OrgID, &a.Name, &a.Role,
		&a.CaregiverID, &a.APIKeyHash, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

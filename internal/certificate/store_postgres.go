package certificate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"attesta/pkg/platform/sentinel"
	txcontext "attesta/pkg/platform/tx"
)

// PostgresStore persists certificates in PostgreSQL. It expects a partial
// unique index on (policy_number, registration_number, company_code) filtered
// to active statuses, so the database rejects the loser of concurrent
// duplicate creations regardless of what the application-level check saw.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const certColumns = `id, reference_number, status, policy_id, insured_id,
	policy_number, registration_number, company_code, agent_code, created_by,
	provider_request_number, certificate_number, download_url, download_expires_at,
	error_message, metadata, idempotency_key, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, cert *Certificate) error {
	metadata, err := json.Marshal(cert.Metadata)
	if err != nil {
		return fmt.Errorf("marshal certificate metadata: %w", err)
	}

	query := `
		INSERT INTO certificates (` + certColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = s.runner(ctx).ExecContext(ctx, query,
		cert.ID, cert.ReferenceNumber, string(cert.Status), cert.PolicyID, cert.InsuredID,
		cert.PolicyNumber, cert.RegistrationNum, cert.CompanyCode, nullString(cert.AgentCode), cert.CreatedBy,
		nullString(cert.ProviderReqNum), nullString(cert.CertificateNum), nullString(cert.DownloadURL), nullTime(cert.DownloadExpires),
		nullString(cert.ErrorMessage), metadata, nullString(cert.IdempotencyKey), cert.CreatedAt, cert.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Certificate, error) {
	row := s.runner(ctx).QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = $1`, id)
	return scanCertificate(row)
}

func (s *PostgresStore) GetByReference(ctx context.Context, referenceNumber string) (*Certificate, error) {
	row := s.runner(ctx).QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE reference_number = $1`, referenceNumber)
	return scanCertificate(row)
}

func (s *PostgresStore) FindActiveConflict(ctx context.Context, policyNumber, registrationNum, companyCode string) (*Certificate, error) {
	row := s.runner(ctx).QueryRowContext(ctx, `
		SELECT `+certColumns+`
		FROM certificates
		WHERE policy_number = $1 AND registration_number = $2 AND company_code = $3
		  AND status = ANY($4)
		ORDER BY created_at
		LIMIT 1`,
		policyNumber, registrationNum, companyCode, pq.Array(statusStrings(ActiveStatuses)))
	cert, err := scanCertificate(row)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return cert, err
}

func (s *PostgresStore) Update(ctx context.Context, cert *Certificate) error {
	metadata, err := json.Marshal(cert.Metadata)
	if err != nil {
		return fmt.Errorf("marshal certificate metadata: %w", err)
	}

	res, err := s.runner(ctx).ExecContext(ctx, `
		UPDATE certificates SET
			status = $2,
			provider_request_number = $3,
			certificate_number = $4,
			download_url = $5,
			download_expires_at = $6,
			error_message = $7,
			metadata = $8,
			updated_at = now()
		WHERE id = $1`,
		cert.ID, string(cert.Status),
		nullString(cert.ProviderReqNum), nullString(cert.CertificateNum),
		nullString(cert.DownloadURL), nullTime(cert.DownloadExpires),
		nullString(cert.ErrorMessage), metadata,
	)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Certificate, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.PolicyNumber != "" {
		query += ` AND policy_number = ` + arg(filter.PolicyNumber)
	}
	if filter.RegistrationNum != "" {
		query += ` AND registration_number = ` + arg(filter.RegistrationNum)
	}
	if filter.CompanyCode != "" {
		query += ` AND company_code = ` + arg(filter.CompanyCode)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.runner(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*Certificate
	for rows.Next() {
		cert, err := scanCertificateRows(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row *sql.Row) (*Certificate, error) {
	cert, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return cert, err
}

func scanCertificateRows(rows *sql.Rows) (*Certificate, error) {
	return scanInto(rows)
}

func scanInto(scanner rowScanner) (*Certificate, error) {
	var (
		cert                                      Certificate
		status                                    string
		agentCode, providerReq, certNum           sql.NullString
		downloadURL, errorMsg, idemKey            sql.NullString
		downloadExpires                           sql.NullTime
		metadata                                  []byte
	)
	err := scanner.Scan(
		&cert.ID, &cert.ReferenceNumber, &status, &cert.PolicyID, &cert.InsuredID,
		&cert.PolicyNumber, &cert.RegistrationNum, &cert.CompanyCode, &agentCode, &cert.CreatedBy,
		&providerReq, &certNum, &downloadURL, &downloadExpires,
		&errorMsg, &metadata, &idemKey, &cert.CreatedAt, &cert.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	cert.Status = Status(status)
	cert.AgentCode = agentCode.String
	cert.ProviderReqNum = providerReq.String
	cert.CertificateNum = certNum.String
	cert.DownloadURL = downloadURL.String
	cert.ErrorMessage = errorMsg.String
	cert.IdempotencyKey = idemKey.String
	if downloadExpires.Valid {
		t := downloadExpires.Time
		cert.DownloadExpires = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &cert.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal certificate metadata: %w", err)
		}
	}
	return &cert, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

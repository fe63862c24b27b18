package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"casefile/api/internal/util"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrUnknownField = errors.New("store: unknown field")
	ErrInvalidValue = errors.New("store: invalid value")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

const userColumns = `id, display_name, email, password_hash, is_email_verified,
	COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, NULLIF($6, ''), $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified,
		user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and token revocation (Postgres fallback when Redis is
// not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixedUserColumns("u")+`
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func prefixedUserColumns(alias string) string {
	return alias + `.id, ` + alias + `.display_name, ` + alias + `.email, ` + alias + `.password_hash, ` +
		alias + `.is_email_verified, COALESCE(` + alias + `.verification_token, ''), ` +
		alias + `.verification_expires_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Clients

const clientColumns = `id, COALESCE(external_id, ''), name, phone_number, insurance,
	first_contact_completed, second_contact_completed,
	last_contact_date, last_face_to_face_date, next_annual_assessment,
	qr1_completed, qr2_completed, qr3_completed, qr4_completed,
	qr1_date, qr2_date, qr3_date, qr4_date,
	created_at, updated_at`

func scanClient(scan func(...any) error) (Client, error) {
	var c Client
	err := scan(&c.ID, &c.ExternalID, &c.Name, &c.PhoneNumber, &c.Insurance,
		&c.FirstContactCompleted, &c.SecondContactCompleted,
		&c.LastContactDate, &c.LastFaceToFaceDate, &c.NextAnnualAssessment,
		&c.QR1Completed, &c.QR2Completed, &c.QR3Completed, &c.QR4Completed,
		&c.QR1Date, &c.QR2Date, &c.QR3Date, &c.QR4Date,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) InsertClient(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, external_id, name, phone_number, insurance,
			first_contact_completed, second_contact_completed,
			last_contact_date, last_face_to_face_date, next_annual_assessment,
			qr1_completed, qr2_completed, qr3_completed, qr4_completed,
			qr1_date, qr2_date, qr3_date, qr4_date)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, c.ID, c.ExternalID, c.Name, c.PhoneNumber, c.Insurance,
		c.FirstContactCompleted, c.SecondContactCompleted,
		c.LastContactDate, c.LastFaceToFaceDate, c.NextAnnualAssessment,
		c.QR1Completed, c.QR2Completed, c.QR3Completed, c.QR4Completed,
		c.QR1Date, c.QR2Date, c.QR3Date, c.QR4Date)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=$1`, clientID)
	return scanClient(row.Scan)
}

func (s *PostgresStore) GetClientByExternalID(ctx context.Context, externalID string) (Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE external_id=$1`, externalID)
	return scanClient(row.Scan)
}

// clientFieldColumns whitelists the externally-updatable client fields and
// their column types. Field names are the API's camelCase names.
var clientFieldColumns = map[string]struct {
	column string
	kind   string // "text", "bool", "date" (nullable), "required_date"
}{
	"name":                   {"name", "text"},
	"phoneNumber":            {"phone_number", "text"},
	"insurance":              {"insurance", "text"},
	"clientId":               {"external_id", "text"},
	"firstContactCompleted":  {"first_contact_completed", "bool"},
	"secondContactCompleted": {"second_contact_completed", "bool"},
	"qr1Completed":           {"qr1_completed", "bool"},
	"qr2Completed":           {"qr2_completed", "bool"},
	"qr3Completed":           {"qr3_completed", "bool"},
	"qr4Completed":           {"qr4_completed", "bool"},
	"lastContactDate":        {"last_contact_date", "date"},
	"lastFaceToFaceDate":     {"last_face_to_face_date", "date"},
	"nextAnnualAssessment":   {"next_annual_assessment", "required_date"},
	"qr1Date":                {"qr1_date", "date"},
	"qr2Date":                {"qr2_date", "date"},
	"qr3Date":                {"qr3_date", "date"},
	"qr4Date":                {"qr4_date", "date"},
}

// SetClientField updates a single whitelisted client field to an absolute
// value. Date values are epoch milliseconds (int64 or json float64); nil
// clears a nullable date.
func (s *PostgresStore) SetClientField(ctx context.Context, clientID, field string, value any) error {
	spec, ok := clientFieldColumns[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	var arg any
	switch spec.kind {
	case "text":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s wants string, got %T", ErrInvalidValue, field, value)
		}
		arg = v
	case "bool":
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s wants bool, got %T", ErrInvalidValue, field, value)
		}
		arg = v
	case "date", "required_date":
		if value == nil {
			if spec.kind == "required_date" {
				return fmt.Errorf("%w: %s cannot be null", ErrInvalidValue, field)
			}
			arg = nil
			break
		}
		ms, err := epochMillis(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, field, err)
		}
		arg = time.UnixMilli(ms).UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE clients SET `+spec.column+`=$2, updated_at=NOW() WHERE id=$1`, clientID, arg)
	if err != nil {
		return fmt.Errorf("set client field %s: %w", field, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func epochMillis(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("wants epoch millis, got %T", value)
	}
}

// ResetContactFlags clears the monthly contact checkboxes on every client.
// Runs from the monthly reset loop.
func (s *PostgresStore) ResetContactFlags(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients SET first_contact_completed=FALSE, second_contact_completed=FALSE, updated_at=NOW()
		WHERE first_contact_completed OR second_contact_completed
	`)
	if err != nil {
		return 0, fmt.Errorf("reset contact flags: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// ---------------------------------------------------------------------------
// Assignments

func (s *PostgresStore) ListAssignedClients(ctx context.Context, caseManagerID string) ([]AssignedClient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedClientColumns("c")+`, a.assigned_date
		FROM assignments a
		JOIN clients c ON c.id = a.client_id
		WHERE a.case_manager_id = $1 AND NOT a.archived
		ORDER BY c.name
	`, caseManagerID)
	if err != nil {
		return nil, fmt.Errorf("list assigned clients: %w", err)
	}
	defer rows.Close()

	var out []AssignedClient
	for rows.Next() {
		var ac AssignedClient
		err := rows.Scan(&ac.ID, &ac.ExternalID, &ac.Name, &ac.PhoneNumber, &ac.Insurance,
			&ac.FirstContactCompleted, &ac.SecondContactCompleted,
			&ac.LastContactDate, &ac.LastFaceToFaceDate, &ac.NextAnnualAssessment,
			&ac.QR1Completed, &ac.QR2Completed, &ac.QR3Completed, &ac.QR4Completed,
			&ac.QR1Date, &ac.QR2Date, &ac.QR3Date, &ac.QR4Date,
			&ac.CreatedAt, &ac.UpdatedAt, &ac.AssignedDate)
		if err != nil {
			return nil, fmt.Errorf("scan assigned client: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func prefixedClientColumns(alias string) string {
	return alias + `.id, COALESCE(` + alias + `.external_id, ''), ` + alias + `.name, ` +
		alias + `.phone_number, ` + alias + `.insurance, ` +
		alias + `.first_contact_completed, ` + alias + `.second_contact_completed, ` +
		alias + `.last_contact_date, ` + alias + `.last_face_to_face_date, ` + alias + `.next_annual_assessment, ` +
		alias + `.qr1_completed, ` + alias + `.qr2_completed, ` + alias + `.qr3_completed, ` + alias + `.qr4_completed, ` +
		alias + `.qr1_date, ` + alias + `.qr2_date, ` + alias + `.qr3_date, ` + alias + `.qr4_date, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func (s *PostgresStore) GetAssignment(ctx context.Context, caseManagerID, clientID string) (Assignment, error) {
	var a Assignment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_manager_id, client_id, archived, assigned_date
		FROM assignments WHERE case_manager_id=$1 AND client_id=$2
	`, caseManagerID, clientID).Scan(&a.ID, &a.CaseManagerID, &a.ClientID, &a.Archived, &a.AssignedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListClientAssignments(ctx context.Context, clientID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_manager_id, client_id, archived, assigned_date
		FROM assignments WHERE client_id=$1 ORDER BY assigned_date
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.CaseManagerID, &a.ClientID, &a.Archived, &a.AssignedDate); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EnsureAssignment creates an active assignment between the case manager
// and client, or unarchives an existing one. Idempotent.
func (s *PostgresStore) EnsureAssignment(ctx context.Context, caseManagerID, clientID string) (Assignment, error) {
	existing, err := s.GetAssignment(ctx, caseManagerID, clientID)
	if err == nil {
		if existing.Archived {
			if err := s.SetAssignmentArchived(ctx, existing.ID, false); err != nil {
				return Assignment{}, err
			}
			existing.Archived = false
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Assignment{}, err
	}

	a := Assignment{
		ID:            util.NewID("as"),
		CaseManagerID: caseManagerID,
		ClientID:      clientID,
		AssignedDate:  time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, case_manager_id, client_id, archived, assigned_date)
		VALUES ($1, $2, $3, FALSE, $4)
	`, a.ID, a.CaseManagerID, a.ClientID, a.AssignedDate)
	if err != nil {
		return Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SetAssignmentArchived(ctx context.Context, assignmentID string, archived bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE assignments SET archived=$2 WHERE id=$1`, assignmentID, archived)
	if err != nil {
		return fmt.Errorf("set assignment archived: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Todos

func (s *PostgresStore) ListTodos(ctx context.Context, clientID string) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, case_manager_id, text, completed, due_date, created_at
		FROM todos WHERE client_id=$1 ORDER BY created_at
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	var out []Todo
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.ClientID, &t.CaseManagerID, &t.Text, &t.Completed, &t.DueDate, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertTodo(ctx context.Context, t Todo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO todos (id, client_id, case_manager_id, text, completed, due_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.ClientID, t.CaseManagerID, t.Text, t.Completed, t.DueDate)
	if err != nil {
		return fmt.Errorf("insert todo: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTodo(ctx context.Context, todoID string) (Todo, error) {
	var t Todo
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, case_manager_id, text, completed, due_date, created_at
		FROM todos WHERE id=$1
	`, todoID).Scan(&t.ID, &t.ClientID, &t.CaseManagerID, &t.Text, &t.Completed, &t.DueDate, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Todo{}, ErrNotFound
	}
	if err != nil {
		return Todo{}, fmt.Errorf("get todo: %w", err)
	}
	return t, nil
}

// SetTodoCompleted is an absolute set rather than a toggle so that a
// retried sync is a no-op the second time.
func (s *PostgresStore) SetTodoCompleted(ctx context.Context, todoID string, completed bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE todos SET completed=$2 WHERE id=$1`, todoID, completed)
	if err != nil {
		return fmt.Errorf("set todo completed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTodo(ctx context.Context, todoID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id=$1`, todoID)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TodoCountsByClient returns total/incomplete todo counts for every client
// actively assigned to the case manager.
func (s *PostgresStore) TodoCountsByClient(ctx context.Context, caseManagerID string) (map[string]TodoCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.client_id, COUNT(*), COUNT(*) FILTER (WHERE NOT t.completed)
		FROM todos t
		JOIN assignments a ON a.client_id = t.client_id
		WHERE a.case_manager_id = $1 AND NOT a.archived
		GROUP BY t.client_id
	`, caseManagerID)
	if err != nil {
		return nil, fmt.Errorf("todo counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]TodoCounts)
	for rows.Next() {
		var clientID string
		var counts TodoCounts
		if err := rows.Scan(&clientID, &counts.Total, &counts.Incomplete); err != nil {
			return nil, fmt.Errorf("scan todo counts: %w", err)
		}
		out[clientID] = counts
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Notes

func (s *PostgresStore) ListNotes(ctx context.Context, clientID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, case_manager_id, text, created_at
		FROM notes WHERE client_id=$1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.ClientID, &n.CaseManagerID, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertNote(ctx context.Context, n Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, client_id, case_manager_id, text) VALUES ($1, $2, $3, $4)
	`, n.ID, n.ClientID, n.CaseManagerID, n.Text)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, case_manager_id, text, created_at FROM notes WHERE id=$1
	`, noteID).Scan(&n.ID, &n.ClientID, &n.CaseManagerID, &n.Text, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateNoteText(ctx context.Context, noteID, text string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notes SET text=$2 WHERE id=$1`, noteID, text)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sticky notes

func (s *PostgresStore) ListStickyNotes(ctx context.Context, caseManagerID string) ([]StickyNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_manager_id, text, color, pos_x, pos_y, created_at, updated_at
		FROM sticky_notes WHERE case_manager_id=$1 ORDER BY created_at DESC
	`, caseManagerID)
	if err != nil {
		return nil, fmt.Errorf("list sticky notes: %w", err)
	}
	defer rows.Close()

	var out []StickyNote
	for rows.Next() {
		var n StickyNote
		if err := rows.Scan(&n.ID, &n.CaseManagerID, &n.Text, &n.Color, &n.X, &n.Y, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sticky note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertStickyNote(ctx context.Context, n StickyNote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sticky_notes (id, case_manager_id, text, color, pos_x, pos_y)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.CaseManagerID, n.Text, n.Color, n.X, n.Y)
	if err != nil {
		return fmt.Errorf("insert sticky note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStickyNote(ctx context.Context, noteID string) (StickyNote, error) {
	var n StickyNote
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_manager_id, text, color, pos_x, pos_y, created_at, updated_at
		FROM sticky_notes WHERE id=$1
	`, noteID).Scan(&n.ID, &n.CaseManagerID, &n.Text, &n.Color, &n.X, &n.Y, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StickyNote{}, ErrNotFound
	}
	if err != nil {
		return StickyNote{}, fmt.Errorf("get sticky note: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateStickyNote(ctx context.Context, n StickyNote) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sticky_notes SET text=$2, color=$3, pos_x=$4, pos_y=$5, updated_at=NOW() WHERE id=$1
	`, n.ID, n.Text, n.Color, n.X, n.Y)
	if err != nil {
		return fmt.Errorf("update sticky note: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteStickyNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sticky_notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete sticky note: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

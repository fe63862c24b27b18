package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"casefile/api/internal/auth"
	"casefile/api/internal/authpw"
	"casefile/api/internal/config"
	"casefile/api/internal/email"
	"casefile/api/internal/export"
	"casefile/api/internal/importer"
	"casefile/api/internal/pending"
	"casefile/api/internal/schedule"
	"casefile/api/internal/search"
	"casefile/api/internal/store"
	"casefile/api/internal/util"
)

// reviewWindowDays is the look-ahead window used to grade how close an
// upcoming quarterly review is. Reviews are a quarter apart, so the window
// spans the whole gap.
const reviewWindowDays = 90

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	InsertClient(ctx context.Context, c store.Client) error
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	GetClientByExternalID(ctx context.Context, externalID string) (store.Client, error)
	SetClientField(ctx context.Context, clientID, field string, value any) error
	ResetContactFlags(ctx context.Context) (int64, error)
	ListAssignedClients(ctx context.Context, caseManagerID string) ([]store.AssignedClient, error)
	GetAssignment(ctx context.Context, caseManagerID, clientID string) (store.Assignment, error)
	ListClientAssignments(ctx context.Context, clientID string) ([]store.Assignment, error)
	EnsureAssignment(ctx context.Context, caseManagerID, clientID string) (store.Assignment, error)
	SetAssignmentArchived(ctx context.Context, assignmentID string, archived bool) error
	ListTodos(ctx context.Context, clientID string) ([]store.Todo, error)
	InsertTodo(ctx context.Context, t store.Todo) error
	GetTodo(ctx context.Context, todoID string) (store.Todo, error)
	SetTodoCompleted(ctx context.Context, todoID string, completed bool) error
	DeleteTodo(ctx context.Context, todoID string) error
	TodoCountsByClient(ctx context.Context, caseManagerID string) (map[string]store.TodoCounts, error)
	ListNotes(ctx context.Context, clientID string) ([]store.Note, error)
	InsertNote(ctx context.Context, n store.Note) error
	GetNote(ctx context.Context, noteID string) (store.Note, error)
	UpdateNoteText(ctx context.Context, noteID, text string) error
	DeleteNote(ctx context.Context, noteID string) error
	ListStickyNotes(ctx context.Context, caseManagerID string) ([]store.StickyNote, error)
	InsertStickyNote(ctx context.Context, n store.StickyNote) error
	GetStickyNote(ctx context.Context, noteID string) (store.StickyNote, error)
	UpdateStickyNote(ctx context.Context, n store.StickyNote) error
	DeleteStickyNote(ctx context.Context, noteID string) error
	Ping(ctx context.Context) error
}

// refreshStore holds refresh tokens. Redis when configured, the Postgres
// store otherwise.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// editSessionRecord tracks one case manager's open detail view for one
// client. Records expire lazily after editTTL of inactivity.
type editSessionRecord struct {
	expiresAt time.Time
	ledger    *pending.Ledger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authPw   *authpw.Service
	mailer   *email.Service
	searcher *search.Service
	importer *importer.Service
	reports  *export.Service

	editTTL      time.Duration
	editMu       sync.Mutex
	editSessions map[string]editSessionRecord
}

// Deps carries the optional collaborator services. Any nil field disables
// the corresponding feature; Sessions falls back to the Postgres store.
type Deps struct {
	Sessions     refreshStore
	AuthPassword *authpw.Service
	Mailer       *email.Service
	Search       *search.Service
	Importer     *importer.Service
	Reports      *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	s := &Service{
		cfg:          cfg,
		store:        dataStore,
		sessions:     deps.Sessions,
		authPw:       deps.AuthPassword,
		mailer:       deps.Mailer,
		searcher:     deps.Search,
		importer:     deps.Importer,
		reports:      deps.Reports,
		editTTL:      cfg.EditTTL,
		editSessions: make(map[string]editSessionRecord),
	}
	if s.sessions == nil {
		s.sessions = dataStore
	}
	if s.editTTL <= 0 {
		s.editTTL = 15 * time.Minute
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// SendVerificationEmail is a no-op when SMTP is not configured; callers
// fall back to returning the token directly in dev.
func (s *Service) SendVerificationEmail(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	link := s.cfg.AppBaseURL + "/verify-email?token=" + url.QueryEscape(token)
	return s.mailer.SendVerificationEmail(to, userName, link)
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	link := s.cfg.AppBaseURL + "/reset-password?token=" + url.QueryEscape(token)
	return s.mailer.SendPasswordResetEmail(to, userName, link)
}

// CreateSession issues an access/refresh token pair for a verified user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The Redis backend only stores the user id.
	if user.DisplayName == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// authorizeClient resolves the caller's assignment for a client. A missing
// assignment reads as NOT_FOUND so callers cannot probe other caseloads.
func (s *Service) authorizeClient(ctx context.Context, session Session, clientID string) (store.Assignment, error) {
	assignment, err := s.store.GetAssignment(ctx, session.UserID, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Assignment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Client not found", nil)
	}
	if err != nil {
		return store.Assignment{}, err
	}
	return assignment, nil
}

// Caseload returns every active client assigned to the caller with the
// derived schedule fields the dashboard renders.
func (s *Service) Caseload(ctx context.Context, session Session) (map[string]any, error) {
	clients, err := s.store.ListAssignedClients(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.TodoCountsByClient(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		item := clientPayload(c.Client, now)
		item["assignedDate"] = c.AssignedDate.UnixMilli()
		item["todoCount"] = counts[c.ID].Total
		item["openTodoCount"] = counts[c.ID].Incomplete
		items = append(items, item)
	}
	return map[string]any{"clients": items}, nil
}

type CreateClientInput struct {
	Name                 string `json:"name"`
	ExternalID           string `json:"externalId"`
	PhoneNumber          string `json:"phoneNumber"`
	Insurance            string `json:"insurance"`
	NextAnnualAssessment int64  `json:"nextAnnualAssessment"`
}

// CreateClient is idempotent on the external client id: a matching
// existing client is re-assigned to the caller instead of duplicated.
func (s *Service) CreateClient(ctx context.Context, session Session, input CreateClientInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if input.NextAnnualAssessment <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "nextAnnualAssessment is required", nil)
	}

	if externalID := strings.TrimSpace(input.ExternalID); externalID != "" {
		existing, err := s.store.GetClientByExternalID(ctx, externalID)
		if err == nil {
			if _, err := s.store.EnsureAssignment(ctx, session.UserID, existing.ID); err != nil {
				return nil, err
			}
			s.indexClient(ctx, existing)
			return clientPayload(existing, time.Now().UTC()), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	client := store.Client{
		ID:                   util.NewID("cl"),
		ExternalID:           strings.TrimSpace(input.ExternalID),
		Name:                 strings.TrimSpace(input.Name),
		PhoneNumber:          strings.TrimSpace(input.PhoneNumber),
		Insurance:            strings.TrimSpace(input.Insurance),
		NextAnnualAssessment: time.UnixMilli(input.NextAnnualAssessment).UTC(),
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureAssignment(ctx, session.UserID, client.ID); err != nil {
		return nil, err
	}
	s.indexClient(ctx, client)
	return clientPayload(client, time.Now().UTC()), nil
}

// ClientByExternalID resolves an external client id to the caller's view
// of that client.
func (s *Service) ClientByExternalID(ctx context.Context, session Session, externalID string) (map[string]any, error) {
	client, err := s.store.GetClientByExternalID(ctx, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Client not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return s.ClientDetail(ctx, session, client.ID)
}

func (s *Service) ClientDetail(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	assignment, err := s.authorizeClient(ctx, session, clientID)
	if err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	todos, err := s.store.ListTodos(ctx, clientID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, clientID)
	if err != nil {
		return nil, err
	}

	payload := clientPayload(client, time.Now().UTC())
	payload["assignment"] = map[string]any{
		"id":           assignment.ID,
		"archived":     assignment.Archived,
		"assignedDate": assignment.AssignedDate.UnixMilli(),
	}
	payload["todos"] = todoPayloads(todos)
	payload["notes"] = notePayloads(notes)
	return payload, nil
}

// UpdateClientField writes one whitelisted field directly, bypassing the
// edit ledger. Used for the immediate edits: name, phone, insurance,
// review completion flags, and review date overrides.
func (s *Service) UpdateClientField(ctx context.Context, session Session, clientID, field string, value any) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	if err := s.store.SetClientField(ctx, clientID, field, value); err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if field == "name" || field == "insurance" {
		s.indexClient(ctx, client)
	}
	return clientPayload(client, time.Now().UTC()), nil
}

// ArchiveClient hides a client from the caller's caseload. The client
// record itself is shared and untouched.
func (s *Service) ArchiveClient(ctx context.Context, session Session, clientID string, archived bool) (map[string]any, error) {
	assignment, err := s.authorizeClient(ctx, session, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetAssignmentArchived(ctx, assignment.ID, archived); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "archived": archived}, nil
}

// AssignClient gives another case manager an active assignment to one of
// the caller's clients. Re-assigning an archived assignment unarchives it.
func (s *Service) AssignClient(ctx context.Context, session Session, clientID, caseManagerID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	caseManagerID = strings.TrimSpace(caseManagerID)
	if caseManagerID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "caseManagerId is required", nil)
	}
	if _, err := s.store.GetUserByID(ctx, caseManagerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown case manager", nil)
		}
		return nil, err
	}
	assignment, err := s.store.EnsureAssignment(ctx, caseManagerID, clientID)
	if err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err == nil {
		s.indexClient(ctx, client)
	}
	return map[string]any{
		"ok":            true,
		"assignmentId":  assignment.ID,
		"caseManagerId": assignment.CaseManagerID,
	}, nil
}

func (s *Service) ClientTodos(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	todos, err := s.store.ListTodos(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"todos": todoPayloads(todos)}, nil
}

func (s *Service) CreateTodo(ctx context.Context, session Session, clientID, text string, dueAt *int64) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	todo := store.Todo{
		ID:            util.NewID("td"),
		ClientID:      clientID,
		CaseManagerID: session.UserID,
		Text:          strings.TrimSpace(text),
	}
	if dueAt != nil {
		due := time.UnixMilli(*dueAt).UTC()
		todo.DueDate = &due
	}
	if err := s.store.InsertTodo(ctx, todo); err != nil {
		return nil, err
	}
	return todoPayload(todo), nil
}

func (s *Service) SetTodoCompleted(ctx context.Context, session Session, todoID string, completed bool) (map[string]any, error) {
	todo, err := s.store.GetTodo(ctx, todoID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeClient(ctx, session, todo.ClientID); err != nil {
		return nil, err
	}
	if err := s.store.SetTodoCompleted(ctx, todoID, completed); err != nil {
		return nil, err
	}
	todo.Completed = completed
	return todoPayload(todo), nil
}

func (s *Service) DeleteTodo(ctx context.Context, session Session, todoID string) error {
	todo, err := s.store.GetTodo(ctx, todoID)
	if err != nil {
		return err
	}
	if _, err := s.authorizeClient(ctx, session, todo.ClientID); err != nil {
		return err
	}
	return s.store.DeleteTodo(ctx, todoID)
}

func (s *Service) ClientNotes(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"notes": notePayloads(notes)}, nil
}

func (s *Service) CreateNote(ctx context.Context, session Session, clientID, text string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	note := store.Note{
		ID:            util.NewID("nt"),
		ClientID:      clientID,
		CaseManagerID: session.UserID,
		Text:          strings.TrimSpace(text),
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	s.indexNote(ctx, note)
	return notePayload(note), nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, noteID, text string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if note.CaseManagerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a note", nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	if err := s.store.UpdateNoteText(ctx, noteID, strings.TrimSpace(text)); err != nil {
		return nil, err
	}
	note.Text = strings.TrimSpace(text)
	s.indexNote(ctx, note)
	return notePayload(note), nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if note.CaseManagerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can delete a note", nil)
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteNote(noteID)
	}
	return nil
}

func (s *Service) StickyNotes(ctx context.Context, session Session) (map[string]any, error) {
	notes, err := s.store.ListStickyNotes(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, stickyPayload(n))
	}
	return map[string]any{"stickyNotes": items}, nil
}

type StickyNoteInput struct {
	Text  *string  `json:"text"`
	Color *string  `json:"color"`
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
}

func (s *Service) CreateStickyNote(ctx context.Context, session Session, input StickyNoteInput) (map[string]any, error) {
	note := store.StickyNote{
		ID:            util.NewID("sn"),
		CaseManagerID: session.UserID,
		Color:         "yellow",
	}
	if input.Text != nil {
		note.Text = *input.Text
	}
	if input.Color != nil && *input.Color != "" {
		note.Color = *input.Color
	}
	if input.X != nil {
		note.X = *input.X
	}
	if input.Y != nil {
		note.Y = *input.Y
	}
	if err := s.store.InsertStickyNote(ctx, note); err != nil {
		return nil, err
	}
	return stickyPayload(note), nil
}

func (s *Service) UpdateStickyNote(ctx context.Context, session Session, noteID string, input StickyNoteInput) (map[string]any, error) {
	note, err := s.store.GetStickyNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	// Sticky notes are personal; someone else's note reads as missing.
	if note.CaseManagerID != session.UserID {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Sticky note not found", nil)
	}
	if input.Text != nil {
		note.Text = *input.Text
	}
	if input.Color != nil {
		note.Color = *input.Color
	}
	if input.X != nil {
		note.X = *input.X
	}
	if input.Y != nil {
		note.Y = *input.Y
	}
	if err := s.store.UpdateStickyNote(ctx, note); err != nil {
		return nil, err
	}
	return stickyPayload(note), nil
}

func (s *Service) DeleteStickyNote(ctx context.Context, session Session, noteID string) error {
	note, err := s.store.GetStickyNote(ctx, noteID)
	if err != nil {
		return err
	}
	if note.CaseManagerID != session.UserID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Sticky note not found", nil)
	}
	return s.store.DeleteStickyNote(ctx, noteID)
}

func editKey(caseManagerID, clientID string) string {
	return caseManagerID + "/" + clientID
}

// editLedger returns the ledger for one open detail view, creating it on
// first use. Every touch renews the TTL; expired records are purged lazily.
func (s *Service) editLedger(key string) *pending.Ledger {
	now := time.Now()
	s.editMu.Lock()
	defer s.editMu.Unlock()
	for k, rec := range s.editSessions {
		if now.After(rec.expiresAt) {
			delete(s.editSessions, k)
		}
	}
	rec, ok := s.editSessions[key]
	if !ok {
		rec = editSessionRecord{ledger: pending.New()}
	}
	rec.expiresAt = now.Add(s.editTTL)
	s.editSessions[key] = rec
	return rec.ledger
}

func (s *Service) dropEditSession(key string) {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	delete(s.editSessions, key)
}

func (s *Service) dispatchers() pending.Dispatchers {
	return pending.Dispatchers{
		SetTodoCompleted: s.store.SetTodoCompleted,
		SetClientField:   s.store.SetClientField,
	}
}

type StageEditInput struct {
	Kind      string `json:"kind"`
	TodoID    string `json:"todoId"`
	Field     string `json:"field"`
	BoolValue *bool  `json:"boolValue"`
	DateValue *int64 `json:"dateValue"`
}

// StageEdit buffers one change in the caller's edit session without
// touching the database. Re-staging the same target replaces the buffered
// value.
func (s *Service) StageEdit(ctx context.Context, session Session, clientID string, input StageEditInput) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	ledger := s.editLedger(editKey(session.UserID, clientID))

	switch input.Kind {
	case "todo":
		if input.TodoID == "" || input.BoolValue == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "todoId and boolValue are required", nil)
		}
		todo, err := s.store.GetTodo(ctx, input.TodoID)
		if err != nil {
			return nil, err
		}
		if todo.ClientID != clientID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "todo belongs to another client", nil)
		}
		ledger.Upsert(pending.TodoChange{TodoID: input.TodoID, Completed: *input.BoolValue})
	case "contact":
		if !pending.ValidContactField(input.Field) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown contact field", map[string]any{"field": input.Field})
		}
		if input.BoolValue == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "boolValue is required", nil)
		}
		ledger.Upsert(pending.ContactChange{ClientID: clientID, Field: pending.ContactField(input.Field), Value: *input.BoolValue})
	case "date":
		if !pending.ValidDateField(input.Field) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown date field", map[string]any{"field": input.Field})
		}
		if input.DateValue == nil || *input.DateValue <= 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dateValue is required", nil)
		}
		ledger.Upsert(pending.DateChange{ClientID: clientID, Field: pending.DateField(input.Field), Value: *input.DateValue})
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be todo, contact, or date", nil)
	}

	return editStatus(ledger), nil
}

// EditState returns the client and todos as the caller currently sees
// them: authoritative values overlaid with whatever their edit session
// has buffered. Derived schedule fields are recomputed from the overlaid
// values.
func (s *Service) EditState(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	todos, err := s.store.ListTodos(ctx, clientID)
	if err != nil {
		return nil, err
	}

	ledger := s.editLedger(editKey(session.UserID, clientID))
	effective := effectiveClient(ledger, client)

	payload := clientPayload(effective, time.Now().UTC())
	items := make([]map[string]any, 0, len(todos))
	for _, t := range todos {
		item := todoPayload(t)
		item["completed"] = ledger.TodoState(t.ID, t.Completed)
		items = append(items, item)
	}
	payload["todos"] = items
	payload["edit"] = editStatus(ledger)
	return payload, nil
}

// SyncEdits flushes the caller's buffered changes to the store. On
// failure every entry is retained for retry; a concurrent flush on the
// same session returns a conflict.
func (s *Service) SyncEdits(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	ledger := s.editLedger(editKey(session.UserID, clientID))
	if err := ledger.Flush(ctx, s.dispatchers()); err != nil {
		return nil, err
	}
	return editStatus(ledger), nil
}

func (s *Service) DiscardEdits(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	key := editKey(session.UserID, clientID)
	s.editLedger(key).Discard()
	s.dropEditSession(key)
	return map[string]any{"state": pending.StateIdle.String(), "pendingCount": 0}, nil
}

// CloseEditSession flushes and tears down the edit session. Closing a
// detail view always syncs; there is no close-without-save path.
func (s *Service) CloseEditSession(ctx context.Context, session Session, clientID string) (map[string]any, error) {
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	key := editKey(session.UserID, clientID)
	if err := s.editLedger(key).Flush(ctx, s.dispatchers()); err != nil {
		return nil, err
	}
	s.dropEditSession(key)
	return map[string]any{"ok": true}, nil
}

func editStatus(l *pending.Ledger) map[string]any {
	return map[string]any{
		"state":        l.State().String(),
		"pendingCount": len(l.Changes()),
	}
}

func effectiveClient(l *pending.Ledger, c store.Client) store.Client {
	c.FirstContactCompleted = l.ContactState(c.ID, pending.FieldFirstContactCompleted, c.FirstContactCompleted)
	c.SecondContactCompleted = l.ContactState(c.ID, pending.FieldSecondContactCompleted, c.SecondContactCompleted)
	c.QR1Completed = l.ContactState(c.ID, pending.FieldQR1Completed, c.QR1Completed)
	c.QR2Completed = l.ContactState(c.ID, pending.FieldQR2Completed, c.QR2Completed)
	c.QR3Completed = l.ContactState(c.ID, pending.FieldQR3Completed, c.QR3Completed)
	c.QR4Completed = l.ContactState(c.ID, pending.FieldQR4Completed, c.QR4Completed)
	c.LastContactDate = overlayDate(l, c.ID, pending.FieldLastContactDate, c.LastContactDate)
	c.LastFaceToFaceDate = overlayDate(l, c.ID, pending.FieldLastFaceToFaceDate, c.LastFaceToFaceDate)
	c.QR1Date = overlayDate(l, c.ID, pending.FieldQR1Date, c.QR1Date)
	c.QR2Date = overlayDate(l, c.ID, pending.FieldQR2Date, c.QR2Date)
	c.QR3Date = overlayDate(l, c.ID, pending.FieldQR3Date, c.QR3Date)
	c.QR4Date = overlayDate(l, c.ID, pending.FieldQR4Date, c.QR4Date)
	annualMs := c.NextAnnualAssessment.UnixMilli()
	if v := l.DateState(c.ID, pending.FieldNextAnnualAssessment, annualMs); v != annualMs {
		c.NextAnnualAssessment = time.UnixMilli(v).UTC()
	}
	return c
}

func overlayDate(l *pending.Ledger, clientID string, field pending.DateField, authoritative *time.Time) *time.Time {
	var authMs int64
	if authoritative != nil {
		authMs = authoritative.UnixMilli()
	}
	v := l.DateState(clientID, field, authMs)
	if v == authMs {
		return authoritative
	}
	t := time.UnixMilli(v).UTC()
	return &t
}

// ResetMonthlyContacts clears the two per-month contact checkboxes for
// every client and returns how many rows changed.
func (s *Service) ResetMonthlyContacts(ctx context.Context) (int64, error) {
	return s.store.ResetContactFlags(ctx)
}

// RunMonthlyContactReset fires ResetMonthlyContacts at the first instant
// of every month (UTC) until ctx is cancelled. Run it in its own
// goroutine.
func (s *Service) RunMonthlyContactReset(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n, err := s.store.ResetContactFlags(ctx); err != nil {
				log.Printf("app: monthly contact reset failed: %v", err)
			} else {
				log.Printf("app: monthly contact reset cleared %d clients", n)
			}
		}
	}
}

// Search runs a caseload-scoped search across clients and notes.
func (s *Service) Search(ctx context.Context, session Session, q, filterType, clientID string, limit, offset int) (map[string]any, error) {
	if s.searcher == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": q}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	resp := s.searcher.Search(search.Query{
		Text:           q,
		FilterType:     search.ResultType(filterType),
		FilterClientID: clientID,
		CaseManagerID:  session.UserID,
		Limit:          limit,
		Offset:         offset,
	})
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}, nil
}

// ImportClients runs a CSV import and assigns the surviving rows to the
// caller. The search index is rebuilt in the background afterwards.
func (s *Service) ImportClients(ctx context.Context, session Session, csvData []byte, simple bool, strategy string) (*importer.Report, error) {
	if s.importer == nil {
		return nil, domainError(http.StatusServiceUnavailable, "IMPORT_UNAVAILABLE", "Import is not configured", nil)
	}
	if len(csvData) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "csv is required", nil)
	}
	report, err := s.importer.Import(ctx, session.UserID, csvData, importer.Options{
		Simple:   simple,
		Strategy: importer.Strategy(strategy),
	})
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "IMPORT_FAILED", err.Error(), nil)
	}
	if s.searcher != nil {
		go s.searcher.ReindexAllFromPG(context.Background())
	}
	return report, nil
}

// CaseloadReport renders the caller's caseload as HTML or PDF.
func (s *Service) CaseloadReport(ctx context.Context, session Session, format string) (*export.Result, error) {
	if s.reports == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REPORTS_UNAVAILABLE", "Reports are not configured", nil)
	}
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	res, err := s.reports.CaseloadReport(ctx, session.UserID, session.UserName, export.Format(format))
	return res, mapExportErr(err)
}

// ClientReport renders the full summary for one of the caller's clients.
func (s *Service) ClientReport(ctx context.Context, session Session, clientID, format string) (*export.Result, error) {
	if s.reports == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REPORTS_UNAVAILABLE", "Reports are not configured", nil)
	}
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	if _, err := s.authorizeClient(ctx, session, clientID); err != nil {
		return nil, err
	}
	res, err := s.reports.ClientReport(ctx, clientID, export.Format(format))
	return res, mapExportErr(err)
}

func validateFormat(format string) error {
	switch export.Format(format) {
	case export.FormatHTML, export.FormatPDF, "":
		return nil
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil)
}

func mapExportErr(err error) error {
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF renderer is not installed", nil)
	}
	return err
}

func (s *Service) indexClient(ctx context.Context, c store.Client) {
	if s.searcher == nil {
		return
	}
	assignments, err := s.store.ListClientAssignments(ctx, c.ID)
	if err != nil {
		log.Printf("app: load assignments for index: %v", err)
		return
	}
	s.searcher.IndexClient(search.ClientRecord{
		ID:             c.ID,
		Name:           c.Name,
		ExternalID:     c.ExternalID,
		Insurance:      c.Insurance,
		CaseManagerIDs: activeManagerIDs(assignments),
	})
}

func (s *Service) indexNote(ctx context.Context, n store.Note) {
	if s.searcher == nil {
		return
	}
	client, err := s.store.GetClient(ctx, n.ClientID)
	if err != nil {
		log.Printf("app: load client for note index: %v", err)
		return
	}
	assignments, err := s.store.ListClientAssignments(ctx, n.ClientID)
	if err != nil {
		log.Printf("app: load assignments for note index: %v", err)
		return
	}
	s.searcher.IndexNote(search.NoteRecord{
		ID:             n.ID,
		Text:           n.Text,
		ClientID:       n.ClientID,
		ClientName:     client.Name,
		CaseManagerIDs: activeManagerIDs(assignments),
	})
}

func activeManagerIDs(assignments []store.Assignment) []string {
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if !a.Archived {
			ids = append(ids, a.CaseManagerID)
		}
	}
	return ids
}

// clientPayload renders a client with the schedule fields derived from
// the injected now.
func clientPayload(c store.Client, now time.Time) map[string]any {
	reviews := schedule.QuarterlyReviews(c.NextAnnualAssessment)
	completed := c.QRCompleted()
	overrides := c.QROverrides()
	idx, due := schedule.NextDue(schedule.ClientSchedule{
		Annual:    c.NextAnnualAssessment,
		Completed: completed,
		Overrides: overrides,
	})

	reviewRows := make([]map[string]any, 0, len(reviews))
	for i, r := range reviews {
		row := map[string]any{
			"label":     r.Label,
			"date":      r.Date.UnixMilli(),
			"completed": completed[i],
			"adjusted":  false,
		}
		if overrides[i] != nil {
			row["date"] = overrides[i].UnixMilli()
			row["adjusted"] = true
		}
		reviewRows = append(reviewRows, row)
	}

	payload := map[string]any{
		"id":                     c.ID,
		"externalId":             c.ExternalID,
		"name":                   c.Name,
		"phoneNumber":            c.PhoneNumber,
		"insurance":              c.Insurance,
		"firstContactCompleted":  c.FirstContactCompleted,
		"secondContactCompleted": c.SecondContactCompleted,
		"lastContactDate":        millisOrNil(c.LastContactDate),
		"lastFaceToFaceDate":     millisOrNil(c.LastFaceToFaceDate),
		"nextAnnualAssessment":   c.NextAnnualAssessment.UnixMilli(),
		"reviews":                reviewRows,
		"nextReview": map[string]any{
			"quarter": idx + 1,
			"label":   reviews[idx].Label,
			"dueAt":   due.UnixMilli(),
			"urgency": schedule.ClassifyUpcoming(now, due, reviewWindowDays).String(),
		},
		"contactUrgency":    elapsedUrgency(now, c.LastContactDate, schedule.LastContactThresholdDays).String(),
		"faceToFaceUrgency": elapsedUrgency(now, c.LastFaceToFaceDate, schedule.FaceToFaceThresholdDays).String(),
	}
	if c.LastFaceToFaceDate != nil {
		faceDue := schedule.NextFaceToFaceDue(*c.LastFaceToFaceDate)
		payload["nextFaceToFaceDue"] = faceDue.UnixMilli()
		payload["faceToFaceDueSoon"] = !now.Before(faceDue.AddDate(0, 0, -schedule.FaceToFaceDueWindowDays))
	}
	return payload
}

func elapsedUrgency(now time.Time, last *time.Time, thresholdDays int) schedule.Urgency {
	var event time.Time
	if last != nil {
		event = *last
	}
	return schedule.ClassifyElapsed(now, event, thresholdDays)
}

func todoPayloads(todos []store.Todo) []map[string]any {
	items := make([]map[string]any, 0, len(todos))
	for _, t := range todos {
		items = append(items, todoPayload(t))
	}
	return items
}

func todoPayload(t store.Todo) map[string]any {
	return map[string]any{
		"id":            t.ID,
		"clientId":      t.ClientID,
		"caseManagerId": t.CaseManagerID,
		"text":          t.Text,
		"completed":     t.Completed,
		"dueDate":       millisOrNil(t.DueDate),
		"createdAt":     t.CreatedAt.UnixMilli(),
	}
}

func notePayloads(notes []store.Note) []map[string]any {
	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, notePayload(n))
	}
	return items
}

func notePayload(n store.Note) map[string]any {
	return map[string]any{
		"id":            n.ID,
		"clientId":      n.ClientID,
		"caseManagerId": n.CaseManagerID,
		"text":          n.Text,
		"createdAt":     n.CreatedAt.UnixMilli(),
	}
}

func stickyPayload(n store.StickyNote) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"text":      n.Text,
		"color":     n.Color,
		"x":         n.X,
		"y":         n.Y,
		"createdAt": n.CreatedAt.UnixMilli(),
		"updatedAt": n.UpdatedAt.UnixMilli(),
	}
}

func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"localehub/api/internal/access"
	"localehub/api/internal/ai"
	"localehub/api/internal/auth"
	"localehub/api/internal/authpw"
	"localehub/api/internal/config"
	"localehub/api/internal/content"
	"localehub/api/internal/export"
	"localehub/api/internal/search"
	"localehub/api/internal/store"
	"localehub/api/internal/util"
)

const defaultFileName = "Localizable.xcstrings"

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type CreateFileInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Comment string `json:"comment"`
	Public  bool   `json:"public"`
}

type UpdateFileInput struct {
	Content string `json:"content"`
	Comment string `json:"comment"`
}

type UpdateFileResult struct {
	VersionNumber int  `json:"versionNumber"`
	Created       bool `json:"created"`
}

type ShareInput struct {
	Grantee string `json:"grantee"` // user ID or email
	CanEdit bool   `json:"canEdit"`
}

type TranslateInput struct {
	TargetLanguage string `json:"targetLanguage"`
	Instructions   string `json:"instructions"`
}

type ProofreadInput struct {
	Language string `json:"language"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ResolveUser(context.Context, string) (store.User, error)
	DeleteExpiredRefreshSessions(context.Context) (int64, error)
	CreateFile(context.Context, store.File, string) error
	GetFile(context.Context, string) (store.File, error)
	UpdateFileContent(ctx context.Context, fileID, newContent, newHash string, sizeBytes int64, authorID, comment string) (int, bool, error)
	SetFileVisibility(context.Context, string, bool) error
	RenameFile(context.Context, string, string) error
	DeleteFile(context.Context, string) error
	CountOwnedFiles(context.Context, string) (int, error)
	ListOwnedFiles(context.Context, string) ([]store.FileMeta, error)
	ListFilesSharedWith(context.Context, string) ([]store.FileMeta, error)
	ListPublicFiles(context.Context, int) ([]store.FileMeta, error)
	ListVersions(context.Context, string) ([]store.FileVersion, error)
	GetVersion(context.Context, string, int) (store.FileVersion, error)
	DeleteVersion(context.Context, string, int) error
	VersionStats(context.Context, string) (store.VersionStats, error)
	UpsertShare(context.Context, store.FileShare) error
	GetShare(ctx context.Context, fileID, granteeID string) (*store.FileShare, error)
	ListFileShares(context.Context, string) ([]store.FileShare, error)
	DeleteShare(ctx context.Context, fileID, granteeID string) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexFile(record search.FileRecord)
	DeleteFile(id string)
}

type exportService interface {
	Export(ctx context.Context, in export.Input, format export.Format) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	search   searchService
	exporter exportService
	ai       ai.Provider
}

// New wires the service against Postgres for both data and refresh sessions.
func New(cfg config.Config, pg *store.PostgresStore, searchSvc *search.Service, exporter *export.Service, provider ai.Provider) *Service {
	s := &Service{
		cfg:      cfg,
		store:    pg,
		sessions: pg,
		accounts: authpw.NewService(pg),
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if exporter != nil {
		s.exporter = exporter
	}
	s.ai = provider
	return s
}

// WithSessionStore swaps the refresh token store, used when Redis is configured.
func (s *Service) WithSessionStore(sessions sessionStore) *Service {
	s.sessions = sessions
	return s
}

// ---------------------------------------------------------------------------
// Auth and sessions

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
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
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
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
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	s.maybeSweepSessions()

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

// maybeSweepSessions opportunistically deletes expired refresh rows on roughly
// one in fifty session issues. The sweep runs in the background and never
// blocks or fails the login that triggered it.
func (s *Service) maybeSweepSessions() {
	if rand.Intn(50) != 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		deleted, err := s.store.DeleteExpiredRefreshSessions(ctx)
		if err != nil {
			log.Printf("session sweep: %v", err)
			return
		}
		if deleted > 0 {
			log.Printf("session sweep: removed %d expired sessions", deleted)
		}
	}()
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// ---------------------------------------------------------------------------
// Files

func (s *Service) CreateFile(ctx context.Context, actorID string, in CreateFileInput) (store.File, error) {
	if actorID == access.Anonymous {
		return store.File{}, errPermissionDenied("sign in to create files")
	}
	if err := s.checkContent(in.Content); err != nil {
		return store.File{}, err
	}

	owned, err := s.store.CountOwnedFiles(ctx, actorID)
	if err != nil {
		return store.File{}, err
	}
	if owned >= s.cfg.MaxFilesPerUser {
		return store.File{}, errQuotaExceeded(fmt.Sprintf("file limit of %d reached", s.cfg.MaxFilesPerUser))
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultFileName
	}
	comment := strings.TrimSpace(in.Comment)
	if comment == "" {
		comment = "Initial version"
	}

	now := time.Now()
	file := store.File{
		ID:          util.NewID("file"),
		OwnerID:     actorID,
		Name:        name,
		Content:     in.Content,
		ContentHash: content.Digest(in.Content),
		SizeBytes:   content.SizeOf(in.Content),
		IsPublic:    in.Public,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateFile(ctx, file, comment); err != nil {
		return store.File{}, err
	}
	if file.IsPublic {
		s.indexFile(file.ID, file.Name, file.Content)
	}
	return file, nil
}

func (s *Service) GetFile(ctx context.Context, actorID, fileID string) (store.File, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return store.File{}, err
	}
	if !access.CanView(file, share, actorID) {
		return store.File{}, errPermissionDenied("no access to this file")
	}
	return file, nil
}

func (s *Service) UpdateFile(ctx context.Context, actorID, fileID string, in UpdateFileInput) (UpdateFileResult, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return UpdateFileResult{}, err
	}
	if !access.CanEdit(file, share, actorID) {
		return UpdateFileResult{}, errPermissionDenied("no edit access to this file")
	}
	if err := s.checkContent(in.Content); err != nil {
		return UpdateFileResult{}, err
	}

	comment := strings.TrimSpace(in.Comment)
	version, created, err := s.store.UpdateFileContent(ctx, fileID, in.Content,
		content.Digest(in.Content), content.SizeOf(in.Content), actorID, comment)
	if err != nil {
		return UpdateFileResult{}, err
	}
	if created && file.IsPublic {
		s.indexFile(file.ID, file.Name, in.Content)
	}
	return UpdateFileResult{VersionNumber: version, Created: created}, nil
}

func (s *Service) DeleteFile(ctx context.Context, actorID, fileID string) error {
	file, _, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return err
	}
	if !access.IsOwner(file, actorID) {
		return errPermissionDenied("only the owner can delete a file")
	}
	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteFile(fileID)
	}
	return nil
}

func (s *Service) SetVisibility(ctx context.Context, actorID, fileID string, public bool) error {
	file, _, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return err
	}
	if !access.IsOwner(file, actorID) {
		return errPermissionDenied("only the owner can change visibility")
	}
	if err := s.store.SetFileVisibility(ctx, fileID, public); err != nil {
		return err
	}
	if public {
		s.indexFile(file.ID, file.Name, file.Content)
	} else if s.search != nil {
		s.search.DeleteFile(fileID)
	}
	return nil
}

func (s *Service) Rename(ctx context.Context, actorID, fileID, name string) error {
	file, _, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return err
	}
	if !access.IsOwner(file, actorID) {
		return errPermissionDenied("only the owner can rename a file")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errInvalidOperation("file name must not be empty")
	}
	if err := s.store.RenameFile(ctx, fileID, name); err != nil {
		return err
	}
	if file.IsPublic {
		s.indexFile(file.ID, name, file.Content)
	}
	return nil
}

func (s *Service) ListOwned(ctx context.Context, actorID string) ([]store.FileMeta, error) {
	if actorID == access.Anonymous {
		return nil, errPermissionDenied("sign in to list files")
	}
	return s.store.ListOwnedFiles(ctx, actorID)
}

func (s *Service) ListSharedWith(ctx context.Context, actorID string) ([]store.FileMeta, error) {
	if actorID == access.Anonymous {
		return nil, errPermissionDenied("sign in to list files")
	}
	return s.store.ListFilesSharedWith(ctx, actorID)
}

func (s *Service) ListPublic(ctx context.Context, limit int) ([]store.FileMeta, error) {
	return s.store.ListPublicFiles(ctx, limit)
}

// ---------------------------------------------------------------------------
// Versions

func (s *Service) ListVersions(ctx context.Context, actorID, fileID string) ([]store.FileVersion, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return nil, err
	}
	if !access.CanView(file, share, actorID) {
		return nil, errPermissionDenied("no access to this file")
	}
	return s.store.ListVersions(ctx, fileID)
}

func (s *Service) GetVersion(ctx context.Context, actorID, fileID string, versionNumber int) (store.FileVersion, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return store.FileVersion{}, err
	}
	if !access.CanView(file, share, actorID) {
		return store.FileVersion{}, errPermissionDenied("no access to this file")
	}
	version, err := s.store.GetVersion(ctx, fileID, versionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return store.FileVersion{}, errNotFound("version not found")
	}
	return version, err
}

func (s *Service) Stats(ctx context.Context, actorID, fileID string) (store.VersionStats, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return store.VersionStats{}, err
	}
	if !access.CanView(file, share, actorID) {
		return store.VersionStats{}, errPermissionDenied("no access to this file")
	}
	return s.store.VersionStats(ctx, fileID)
}

func (s *Service) DeleteVersion(ctx context.Context, actorID, fileID string, versionNumber int) error {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return err
	}
	if !access.CanEdit(file, share, actorID) {
		return errPermissionDenied("no edit access to this file")
	}
	err = s.store.DeleteVersion(ctx, fileID, versionNumber)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errNotFound("version not found")
	case errors.Is(err, store.ErrHeadVersion):
		return errInvalidOperation("cannot delete the current version")
	case errors.Is(err, store.ErrOnlyVersion):
		return errInvalidOperation("cannot delete the only version")
	}
	return err
}

// Revert creates a new head version carrying the content of an older one. The
// history stays intact: reverting never rewrites or removes versions.
func (s *Service) Revert(ctx context.Context, actorID, fileID string, versionNumber int, comment string) (UpdateFileResult, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return UpdateFileResult{}, err
	}
	if !access.CanEdit(file, share, actorID) {
		return UpdateFileResult{}, errPermissionDenied("no edit access to this file")
	}
	version, err := s.store.GetVersion(ctx, fileID, versionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return UpdateFileResult{}, errNotFound("version not found")
	}
	if err != nil {
		return UpdateFileResult{}, err
	}

	comment = strings.TrimSpace(comment)
	if comment == "" {
		comment = fmt.Sprintf("Reverted to version %d", versionNumber)
	}
	number, created, err := s.store.UpdateFileContent(ctx, fileID, version.Content,
		version.ContentHash, version.SizeBytes, actorID, comment)
	if err != nil {
		return UpdateFileResult{}, err
	}
	if created && file.IsPublic {
		s.indexFile(file.ID, file.Name, version.Content)
	}
	return UpdateFileResult{VersionNumber: number, Created: created}, nil
}

// ---------------------------------------------------------------------------
// Shares

func (s *Service) Share(ctx context.Context, actorID, fileID string, in ShareInput) (store.FileShare, error) {
	file, _, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return store.FileShare{}, err
	}
	if !access.IsOwner(file, actorID) {
		return store.FileShare{}, errPermissionDenied("only the owner can share a file")
	}

	grantee, err := s.store.ResolveUser(ctx, strings.TrimSpace(in.Grantee))
	if errors.Is(err, store.ErrNotFound) {
		return store.FileShare{}, errNotFound("user not found")
	}
	if err != nil {
		return store.FileShare{}, err
	}
	if grantee.ID == file.OwnerID {
		return store.FileShare{}, errInvalidOperation("cannot share a file with its owner")
	}

	share := store.FileShare{
		ID:        util.NewID("shr"),
		FileID:    fileID,
		GranteeID: grantee.ID,
		CanEdit:   in.CanEdit,
	}
	if err := s.store.UpsertShare(ctx, share); err != nil {
		return store.FileShare{}, err
	}
	share.GranteeName = grantee.DisplayName
	share.GranteeEmail = grantee.Email
	return share, nil
}

func (s *Service) Unshare(ctx context.Context, actorID, fileID, granteeID string) error {
	file, _, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return err
	}
	if !access.IsOwner(file, actorID) {
		return errPermissionDenied("only the owner can revoke shares")
	}
	return s.store.DeleteShare(ctx, fileID, granteeID)
}

func (s *Service) ListShares(ctx context.Context, actorID, fileID string) ([]store.FileShare, error) {
	file, _, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return nil, err
	}
	if !access.IsOwner(file, actorID) {
		return nil, errPermissionDenied("only the owner can list shares")
	}
	return s.store.ListFileShares(ctx, fileID)
}

// ---------------------------------------------------------------------------
// Search, export, AI

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Export(ctx context.Context, actorID, fileID string, format export.Format) (*export.Result, error) {
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return nil, err
	}
	if !access.CanView(file, share, actorID) {
		return nil, errPermissionDenied("no access to this file")
	}
	if s.exporter == nil {
		return nil, errUnavailable("export is not configured")
	}

	owner, err := s.store.GetUserByID(ctx, file.OwnerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	result, err := s.exporter.Export(ctx, export.Input{
		FileID:    file.ID,
		Name:      file.Name,
		OwnerName: owner.DisplayName,
		Content:   file.Content,
		UpdatedAt: file.UpdatedAt,
	}, format)
	if errors.Is(err, export.ErrUnknownFormat) {
		return nil, errInvalidOperation("unknown export format")
	}
	return result, err
}

func (s *Service) Translate(ctx context.Context, actorID, fileID string, in TranslateInput) (ai.Suggestions, error) {
	catalog, err := s.catalogForActor(ctx, actorID, fileID)
	if err != nil {
		return ai.Suggestions{}, err
	}
	target := strings.TrimSpace(in.TargetLanguage)
	if target == "" {
		return ai.Suggestions{}, errInvalidOperation("target language is required")
	}

	source := map[string]string{}
	for key, entry := range catalog.Strings {
		value := key
		if loc, ok := entry.Localizations[catalog.SourceLanguage]; ok && loc.StringUnit != nil {
			value = loc.StringUnit.Value
		}
		source[key] = value
	}
	if len(source) == 0 {
		return ai.Suggestions{}, errInvalidOperation("catalog has no strings to translate")
	}

	return s.ai.Translate(ctx, ai.TranslateRequest{
		SourceLanguage: catalog.SourceLanguage,
		TargetLanguage: target,
		Strings:        source,
		Instructions:   in.Instructions,
	})
}

func (s *Service) Proofread(ctx context.Context, actorID, fileID string, in ProofreadInput) (ai.Suggestions, error) {
	catalog, err := s.catalogForActor(ctx, actorID, fileID)
	if err != nil {
		return ai.Suggestions{}, err
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = catalog.SourceLanguage
	}

	values := map[string]string{}
	for key, entry := range catalog.Strings {
		if loc, ok := entry.Localizations[language]; ok && loc.StringUnit != nil && loc.StringUnit.Value != "" {
			values[key] = loc.StringUnit.Value
		}
	}
	if len(values) == 0 {
		return ai.Suggestions{}, errInvalidOperation("catalog has no strings in " + language)
	}

	return s.ai.Proofread(ctx, ai.ProofreadRequest{Language: language, Strings: values})
}

func (s *Service) catalogForActor(ctx context.Context, actorID, fileID string) (content.Catalog, error) {
	if s.ai == nil {
		return content.Catalog{}, errUnavailable("AI assistance is not configured")
	}
	file, share, err := s.fileForActor(ctx, fileID, actorID)
	if err != nil {
		return content.Catalog{}, err
	}
	if !access.CanView(file, share, actorID) {
		return content.Catalog{}, errPermissionDenied("no access to this file")
	}
	catalog, err := content.ParseCatalog(file.Content)
	if err != nil {
		return content.Catalog{}, errInvalidContent("file is not a valid string catalog")
	}
	return catalog, nil
}

// ---------------------------------------------------------------------------
// Helpers

// fileForActor loads the file and, for a signed-in non-owner, the actor's
// share row. Missing files surface as NOT_FOUND before any access decision.
func (s *Service) fileForActor(ctx context.Context, fileID, actorID string) (store.File, *store.FileShare, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return store.File{}, nil, errNotFound("file not found")
	}
	if err != nil {
		return store.File{}, nil, err
	}

	var share *store.FileShare
	if actorID != access.Anonymous && actorID != file.OwnerID {
		share, err = s.store.GetShare(ctx, fileID, actorID)
		if err != nil {
			return store.File{}, nil, err
		}
	}
	return file, share, nil
}

func (s *Service) checkContent(raw string) error {
	if size := content.SizeOf(raw); size > s.cfg.MaxFileBytes {
		return errPayloadTooLarge(fmt.Sprintf("content is %d bytes, limit is %d", size, s.cfg.MaxFileBytes))
	}
	if err := content.Validate(raw); err != nil {
		return errInvalidContent("content must be a JSON object")
	}
	return nil
}

func (s *Service) indexFile(fileID, name, raw string) {
	if s.search == nil {
		return
	}
	record := search.FileRecord{ID: fileID, Name: name}
	if catalog, err := content.ParseCatalog(raw); err == nil {
		record.Languages = catalog.Languages()
	}
	s.search.IndexFile(record)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

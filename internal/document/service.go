// Package document は書類・書類バージョン・承認履歴のサービス層を提供する。
// ファイル本体はBlobStoreに保存し、行にはオブジェクトURLのみを持つ。
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository"
	"github.com/hitoshi/recruitman/internal/storage"
)

// DefaultMaxSize はアップロードできるファイルサイズの既定上限（10MiB）。
const DefaultMaxSize int64 = 10 << 20

// FileInput はアップロードするファイル。
type FileInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadInput は書類アップロードの入力。
type UploadInput struct {
	Name         string
	DocumentType string
	ExpiryDate   *time.Time
	File         FileInput
}

// DocumentPatch は書類の属性更新の入力。nilの項目は変更しない。
type DocumentPatch struct {
	Name         *string
	DocumentType *string
	ExpiryDate   *time.Time
}

// ApprovalInput は承認・却下の入力。
type ApprovalInput struct {
	Status  model.DocumentStatus
	Comment string
}

// File はダウンロードするファイル本体。呼び出し側でBodyを閉じること。
type File struct {
	Name string
	Body io.ReadCloser
}

// Service は書類のサービス層。
type Service struct {
	store      repository.Store
	policies   *policy.Policies
	blobs      storage.BlobStore
	rules      *fanout.Rules
	dispatcher *fanout.Dispatcher
	publisher  realtime.Publisher
	logger     *slog.Logger
	maxSize    int64
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。maxSizeが0以下の場合は既定値を使う。
func NewService(
	store repository.Store,
	policies *policy.Policies,
	blobs storage.BlobStore,
	rules *fanout.Rules,
	dispatcher *fanout.Dispatcher,
	publisher realtime.Publisher,
	logger *slog.Logger,
	maxSize int64,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Service{
		store:      store,
		policies:   policies,
		blobs:      blobs,
		rules:      rules,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		maxSize:    maxSize,
		now:        time.Now,
	}
}

// ListDocuments は実行者が参照できる書類を返す。応募者には自分の書類のみ返す。
func (s *Service) ListDocuments(ctx context.Context, actor policy.Actor, userID string) ([]*model.Document, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !actor.IsHR() {
		userID = actor.ID
	}
	if userID != "" && !model.ValidID(userID) {
		return []*model.Document{}, nil
	}
	ds, err := s.store.Repos().Documents.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("書類一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Documents.Filter(ctx, actor, ds)
}

// GetDocument は書類を返す。
func (s *Service) GetDocument(ctx context.Context, actor policy.Actor, id string) (*model.Document, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	return s.visibleDocument(ctx, actor, id)
}

// Upload はファイルを保存し、書類と第1版を作成する。
func (s *Service) Upload(ctx context.Context, actor policy.Actor, in UploadInput) (*model.Document, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if err := s.validateFile(in.File); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := &model.Document{
		ID:             model.NewID(),
		UserID:         actor.ID,
		Name:           strings.TrimSpace(in.Name),
		DocumentType:   strings.TrimSpace(in.DocumentType),
		Status:         model.DocumentStatusPending,
		ExpiryDate:     in.ExpiryDate,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if d.Name == "" {
		return nil, model.NewValidationError("name", "書類名は必須です")
	}
	if err := policy.Allowed(s.policies.Documents.CanInsert(ctx, actor, d)); err != nil {
		return nil, err
	}

	url, err := s.put(ctx, actor, d, in.File)
	if err != nil {
		return nil, err
	}
	d.FileURL = url

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Documents.Create(ctx, d); err != nil {
			return fmt.Errorf("書類の作成に失敗しました: %w", err)
		}
		if err := r.Documents.AddVersion(ctx, s.version(d, actor)); err != nil {
			return fmt.Errorf("書類バージョンの作成に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.DocumentChanged(nil, d))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)

	s.logger.Info("書類をアップロードしました",
		slog.String("document_id", d.ID),
		slog.String("user_id", d.UserID),
		slog.Int64("size", in.File.Size),
	)
	return d, nil
}

// ReplaceFile は書類のファイルを差し替える。新しい版を追記し、状態はpendingに戻る。
func (s *Service) ReplaceFile(ctx context.Context, actor policy.Actor, id string, in FileInput) (*model.Document, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	old, err := s.visibleDocument(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateFile(in); err != nil {
		return nil, err
	}

	next := *old
	next.CurrentVersion = old.CurrentVersion + 1
	next.Status = model.DocumentStatusPending
	next.UpdatedAt = s.now().UTC()
	if err := policy.Allowed(s.policies.Documents.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	url, err := s.put(ctx, actor, &next, in)
	if err != nil {
		return nil, err
	}
	next.FileURL = url

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Documents.Update(ctx, &next); err != nil {
			return fmt.Errorf("書類の更新に失敗しました: %w", err)
		}
		if err := r.Documents.AddVersion(ctx, s.version(&next, actor)); err != nil {
			return fmt.Errorf("書類バージョンの作成に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.DocumentChanged(old, &next))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)
	return &next, nil
}

// UpdateDocument は書類名・種別・有効期限を更新する。承認状態はApproveでのみ変更する。
func (s *Service) UpdateDocument(ctx context.Context, actor policy.Actor, id string, in DocumentPatch) (*model.Document, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	old, err := s.visibleDocument(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *old
	if in.Name != nil {
		next.Name = strings.TrimSpace(*in.Name)
	}
	if in.DocumentType != nil {
		next.DocumentType = strings.TrimSpace(*in.DocumentType)
	}
	if in.ExpiryDate != nil {
		exp := in.ExpiryDate.UTC()
		next.ExpiryDate = &exp
	}
	next.UpdatedAt = s.now().UTC()
	if next.Name == "" {
		return nil, model.NewValidationError("name", "書類名は必須です")
	}
	if err := policy.Allowed(s.policies.Documents.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Documents.Update(ctx, &next); err != nil {
			return fmt.Errorf("書類の更新に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.DocumentChanged(old, &next))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)
	return &next, nil
}

// DeleteDocument は書類を削除する。バージョンと承認履歴はCASCADE削除され、保存済みのファイルは残す。
func (s *Service) DeleteDocument(ctx context.Context, actor policy.Actor, id string) error {
	if err := actor.RequireProfile(); err != nil {
		return err
	}
	d, err := s.visibleDocument(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.Allowed(s.policies.Documents.CanDelete(ctx, actor, d)); err != nil {
		return err
	}
	if err := s.store.Repos().Documents.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("書類の削除に失敗しました: %w", err)
	}
	return nil
}

// Content は書類ファイルを返す。versionが0以下の場合は最新版を返す。
func (s *Service) Content(ctx context.Context, actor policy.Actor, id string, version int) (*File, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	d, err := s.visibleDocument(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	url := d.FileURL
	if version > 0 && version != d.CurrentVersion {
		vs, err := s.ListVersions(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		url = ""
		for _, v := range vs {
			if v.Version == version {
				url = v.FileURL
				break
			}
		}
		if url == "" {
			return nil, model.NewNotFoundError("書類バージョン")
		}
	}

	_, objectPath, err := storage.ParseObjectURL(url)
	if err != nil {
		return nil, fmt.Errorf("書類ファイルのURLが不正です: %w", err)
	}
	if !policy.CanAccessBlobPath(actor, objectPath) {
		return nil, model.NewForbiddenError()
	}

	body, err := s.blobs.Get(ctx, url)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, model.NewNotFoundError("書類ファイル")
		}
		s.logger.Error("書類ファイルの取得に失敗しました",
			slog.String("document_id", d.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError("ストレージ")
	}
	return &File{Name: path.Base(objectPath), Body: body}, nil
}

func (s *Service) validateFile(in FileInput) error {
	if in.Body == nil || in.Size <= 0 {
		return model.NewValidationError("file", "ファイルを指定してください")
	}
	if in.Size > s.maxSize {
		return model.NewValidationError("file", fmt.Sprintf("ファイルサイズは%dバイト以下にしてください", s.maxSize))
	}
	return nil
}

// put は書類の現在の版のパスにファイルを保存し、オブジェクトURLを返す。
func (s *Service) put(ctx context.Context, actor policy.Actor, d *model.Document, in FileInput) (string, error) {
	objectPath := storage.DocumentPath(d.UserID, d.ID, d.CurrentVersion, in.FileName)
	if !policy.CanAccessBlobPath(actor, objectPath) {
		return "", model.NewForbiddenError()
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := s.blobs.Put(ctx, objectPath, io.LimitReader(in.Body, s.maxSize), contentType)
	if errors.Is(err, storage.ErrObjectExists) {
		s.logger.Warn("同じバージョンの書類ファイルが既に保存されています",
			slog.String("document_id", d.ID),
			slog.String("path", objectPath),
		)
		return "", model.NewConflictError("書類")
	}
	if err != nil {
		s.logger.Error("書類ファイルの保存に失敗しました",
			slog.String("document_id", d.ID),
			slog.String("path", objectPath),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamError("ストレージ")
	}
	return url, nil
}

func (s *Service) version(d *model.Document, actor policy.Actor) *model.DocumentVersion {
	return &model.DocumentVersion{
		ID:         model.NewID(),
		DocumentID: d.ID,
		Version:    d.CurrentVersion,
		FileURL:    d.FileURL,
		UploadedBy: actor.ID,
		CreatedAt:  d.UpdatedAt,
	}
}

func (s *Service) visibleDocument(ctx context.Context, actor policy.Actor, id string) (*model.Document, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("書類")
	}
	d, err := s.store.Repos().Documents.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書類の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Documents, actor, d, "書類"); err != nil {
		return nil, err
	}
	return d, nil
}

// Package profile はプロフィールの作成・参照・更新を提供する。
package profile

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/repository"
	"github.com/hitoshi/recruitman/internal/storage"
)

// CreateInput はプロフィール作成の入力。
type CreateInput struct {
	Role       model.Role
	FullName   string
	Email      string
	Phone      string
	BirthDate  *time.Time
	CVURL      string
	LicenseURL string
	TitleURL   string
}

// UpdateInput はプロフィール更新の入力。nilの項目は変更しない。
type UpdateInput struct {
	Role       *model.Role
	FullName   *string
	Email      *string
	Phone      *string
	BirthDate  *time.Time
	CVURL      *string
	LicenseURL *string
	TitleURL   *string
}

// Service はプロフィールのサービス層。
type Service struct {
	store    repository.Store
	policies *policy.Policies
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, policies *policy.Policies) *Service {
	return &Service{store: store, policies: policies, now: time.Now}
}

// Me は実行者自身のプロフィールを返す。未作成の場合はNotFound。
func (s *Service) Me(ctx context.Context, actor policy.Actor) (*model.Profile, error) {
	if actor.ID == "" {
		return nil, model.NewUnauthorizedError()
	}
	p, err := s.store.Repos().Profiles.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewNotFoundError("プロフィール")
	}
	return p, nil
}

// Get は指定IDのプロフィールを返す。本人か採用担当者のみ参照できる。
func (s *Service) Get(ctx context.Context, actor policy.Actor, id string) (*model.Profile, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("プロフィール")
	}
	p, err := s.store.Repos().Profiles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Profiles, actor, p, "プロフィール"); err != nil {
		return nil, err
	}
	return p, nil
}

// Create は実行者のプロフィールを作成する。役割は作成時にのみ選択できる。
func (s *Service) Create(ctx context.Context, actor policy.Actor, in CreateInput) (*model.Profile, error) {
	if actor.ID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if !in.Role.Valid() {
		return nil, model.NewValidationError("role", "役割は candidate または hr を指定してください")
	}

	now := s.now().UTC()
	p := &model.Profile{
		ID:         actor.ID,
		Role:       in.Role,
		FullName:   strings.TrimSpace(in.FullName),
		Email:      strings.TrimSpace(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		BirthDate:  in.BirthDate,
		CVURL:      in.CVURL,
		LicenseURL: in.LicenseURL,
		TitleURL:   in.TitleURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	// 作成前の実行者は役割を持たないため、作成後の役割で添付ファイルを判定する
	owner := policy.Actor{ID: actor.ID, Role: in.Role}
	if err := checkAttachments(owner, p); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.Profiles.CanInsert(ctx, actor, p)); err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	existing, err := repos.Profiles.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewProfileExistsError()
	}
	if err := repos.Profiles.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}
	return p, nil
}

// Update は実行者自身のプロフィールを更新する。役割は変更できない。
func (s *Service) Update(ctx context.Context, actor policy.Actor, in UpdateInput) (*model.Profile, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	repos := s.store.Repos()
	old, err := repos.Profiles.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Profiles, actor, old, "プロフィール"); err != nil {
		return nil, err
	}

	next := *old
	if in.Role != nil {
		next.Role = *in.Role
	}
	if in.FullName != nil {
		next.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Email != nil {
		next.Email = strings.TrimSpace(*in.Email)
	}
	if in.Phone != nil {
		next.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.BirthDate != nil {
		next.BirthDate = in.BirthDate
	}
	if in.CVURL != nil {
		next.CVURL = *in.CVURL
	}
	if in.LicenseURL != nil {
		next.LicenseURL = *in.LicenseURL
	}
	if in.TitleURL != nil {
		next.TitleURL = *in.TitleURL
	}
	next.UpdatedAt = s.now().UTC()

	if err := validate(&next); err != nil {
		return nil, err
	}
	if err := checkAttachments(actor, &next); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.Profiles.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	if err := repos.Profiles.Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	return &next, nil
}

func validate(p *model.Profile) error {
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return model.NewValidationError("email", "メールアドレスの形式が正しくありません")
		}
	}
	if p.BirthDate != nil && p.BirthDate.After(time.Now()) {
		return model.NewValidationError("birth_date", "生年月日に未来の日付は指定できません")
	}
	return nil
}

// checkAttachments は添付ファイルURLが実行者のストレージ領域を指していることを確認する。
func checkAttachments(actor policy.Actor, p *model.Profile) error {
	fields := []struct {
		name string
		url  string
	}{
		{"cv_url", p.CVURL},
		{"license_url", p.LicenseURL},
		{"title_url", p.TitleURL},
	}
	for _, f := range fields {
		if f.url == "" {
			continue
		}
		_, objectPath, err := storage.ParseObjectURL(f.url)
		if err != nil {
			return model.NewValidationError(f.name, "ファイルURLの形式が正しくありません")
		}
		if !policy.CanAccessBlobPath(actor, objectPath) {
			return model.NewForbiddenError()
		}
	}
	return nil
}

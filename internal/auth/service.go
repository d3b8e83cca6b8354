package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// ProfileFinder はプロフィールの検索に必要なインターフェース。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
}

// TokenVerifier はトークン検証のインターフェース。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Service はトークンから実行者を解決する。
type Service struct {
	verifier TokenVerifier
	profiles ProfileFinder
}

// NewService はServiceを生成する。
func NewService(verifier TokenVerifier, profiles ProfileFinder) *Service {
	return &Service{verifier: verifier, profiles: profiles}
}

// Authenticate はトークンを検証し、実行者を返す。
// 役割はトークンではなくprofilesから取得する。
// プロフィール未作成の場合は役割が空の実行者を返す。
func (s *Service) Authenticate(ctx context.Context, token string) (policy.Actor, error) {
	subject, err := s.verifier.Verify(token)
	if err != nil {
		return policy.Actor{}, err
	}

	profile, err := s.profiles.FindByID(ctx, subject)
	if err != nil {
		return policy.Actor{}, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	actor := policy.Actor{ID: subject}
	if profile != nil {
		actor.Role = profile.Role
	}
	return actor, nil
}

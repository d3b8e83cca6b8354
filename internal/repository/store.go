package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/recruitman/internal/database"
)

// Repos は同じ接続（またはトランザクション）に束縛されたリポジトリ一式。
type Repos struct {
	Profiles      ProfileRepository
	JobOffers     JobOfferRepository
	Applications  ApplicationRepository
	Activities    ActivityRepository
	Processes     ProcessRepository
	Stages        StageRepository
	Evaluations   EvaluationRepository
	Templates     TemplateRepository
	Assessments   AssessmentRepository
	Results       ResultRepository
	Documents     DocumentRepository
	Messages      MessageRepository
	Notifications NotificationRepository
	Outbox        OutboxRepository
	Emails        EmailRepository
	Relations     *PostgresRelations
}

// NewRepos はdbに束縛したリポジトリ一式を生成する。
func NewRepos(db database.DBTX) *Repos {
	return &Repos{
		Profiles:      NewPostgresProfileRepo(db),
		JobOffers:     NewPostgresJobOfferRepo(db),
		Applications:  NewPostgresApplicationRepo(db),
		Activities:    NewPostgresActivityRepo(db),
		Processes:     NewPostgresProcessRepo(db),
		Stages:        NewPostgresStageRepo(db),
		Evaluations:   NewPostgresEvaluationRepo(db),
		Templates:     NewPostgresTemplateRepo(db),
		Assessments:   NewPostgresAssessmentRepo(db),
		Results:       NewPostgresResultRepo(db),
		Documents:     NewPostgresDocumentRepo(db),
		Messages:      NewPostgresMessageRepo(db),
		Notifications: NewPostgresNotificationRepo(db),
		Outbox:        NewPostgresOutboxRepo(db),
		Emails:        NewPostgresEmailRepo(db),
		Relations:     NewPostgresRelations(db),
	}
}

// Store はリポジトリ一式とトランザクション境界を提供する。
type Store interface {
	// Repos はトランザクション外の読み取りに使うリポジトリ一式を返す。
	Repos() *Repos
	// InTx はfnを1つのトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
	InTx(ctx context.Context, fn func(r *Repos) error) error
}

// PostgresStore はPostgreSQLを使用したStore。
type PostgresStore struct {
	db    *sql.DB
	repos *Repos
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, repos: NewRepos(db)}
}

func (s *PostgresStore) Repos() *Repos {
	return s.repos
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(r *Repos) error) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(NewRepos(tx))
	})
}

var _ Store = (*PostgresStore)(nil)

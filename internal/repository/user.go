package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/drifterza/headplane/internal/domain/model"
)

// UserRepository — интерфейс доступа к таблице users.
// Все методы работают через DBTX: внутри транзакции репозиторий
// создаётся с pgx.Tx, вне — с пулом.
type UserRepository interface {
	// UpsertRole создаёт или обновляет пользователя по subject.
	// Частичное слияние: обновляет только маску прав и поля профиля,
	// НИКОГДА не трогает onboarded и headscale_user_id.
	UpsertRole(ctx context.Context, u *model.User) error
	// GetBySubject возвращает пользователя по subject.
	GetBySubject(ctx context.Context, subject string) (*model.User, error)
	// CountByCapabilities возвращает число пользователей с точным значением маски.
	CountByCapabilities(ctx context.Context, mask uint64) (int, error)
	// SetHeadscaleUserID обновляет связь с пользователем Headscale.
	SetHeadscaleUserID(ctx context.Context, subject string, headscaleUserID string) error
	// SetOnboarded помечает пользователя как прошедшего онбординг.
	SetOnboarded(ctx context.Context, subject string, onboarded bool) error
	// List возвращает всех пользователей (с пагинацией).
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	// AcquireOwnerLock берёт advisory-блокировку bootstrap владельца.
	// Действует до конца транзакции; вне транзакции бессмысленна.
	AcquireOwnerLock(ctx context.Context) error
}

// ownerBootstrapLockID — ключ pg_advisory_xact_lock для bootstrap владельца.
const ownerBootstrapLockID = 0x4850_0001

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, subject, capabilities, onboarded, headscale_user_id, email, display_name, picture_url, created_at, updated_at`

func (r *userRepo) UpsertRole(ctx context.Context, u *model.User) error {
	// onboarded и headscale_user_id в DO UPDATE отсутствуют намеренно:
	// рутинный логин не должен сбрасывать состояние онбординга и связь.
	query := `
		INSERT INTO users (subject, capabilities, email, display_name, picture_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject) DO UPDATE SET
			capabilities = EXCLUDED.capabilities,
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			picture_url = EXCLUDED.picture_url
		RETURNING id, onboarded, headscale_user_id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.Subject, int64(u.Capabilities), u.Email, u.DisplayName, u.PictureURL,
	).Scan(&u.ID, &u.Onboarded, &u.HeadscaleUserID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetBySubject(ctx context.Context, subject string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE subject = $1`, userColumns)

	u, err := scanUser(r.db.QueryRow(ctx, query, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) CountByCapabilities(ctx context.Context, mask uint64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE capabilities = $1`, int64(mask),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей по маске: %w", err)
	}
	return count, nil
}

func (r *userRepo) SetHeadscaleUserID(ctx context.Context, subject string, headscaleUserID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET headscale_user_id = $2 WHERE subject = $1`,
		subject, headscaleUserID,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления связи с Headscale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) SetOnboarded(ctx context.Context, subject string, onboarded bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET onboarded = $2 WHERE subject = $1`,
		subject, onboarded,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса онбординга: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2`, userColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) AcquireOwnerLock(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(ownerBootstrapLockID)); err != nil {
		return fmt.Errorf("ошибка взятия advisory-блокировки: %w", err)
	}
	return nil
}

// scanUser читает одну строку таблицы users (порядок колонок — userColumns).
func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	var caps int64
	err := row.Scan(
		&u.ID, &u.Subject, &caps, &u.Onboarded, &u.HeadscaleUserID,
		&u.Email, &u.DisplayName, &u.PictureURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Capabilities = uint64(caps)
	return u, nil
}

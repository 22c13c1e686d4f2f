// login.go — завершение OIDC-логина: bootstrap владельца и линковка
// локального пользователя с пользователем Headscale.
//
// Bootstrap: самый первый вошедший пользователь становится владельцем
// (полная маска прав). Проверка "есть ли владелец" и назначение маски
// выполняются в одной транзакции под advisory-блокировкой — два
// одновременных первых логина не могут оба получить owner.
//
// Линковка: локальный subject и providerId пользователя Headscale —
// два независимых пространства идентификаторов. Слияние eventually
// consistent: безопасно повторяется на каждом логине, промах или
// недоступность Headscale никогда не рвут существующую связь и не
// валят логин.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/domain/capabilities"
	"github.com/drifterza/headplane/internal/domain/model"
	"github.com/drifterza/headplane/internal/headscale"
	"github.com/drifterza/headplane/internal/repository"
)

// TxRunner — выполнение функции в транзакции.
// Реализуется repository.TxRunner.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ControlPlane — минимальный интерфейс Headscale для линковки.
type ControlPlane interface {
	ListUsers(ctx context.Context) ([]headscale.User, error)
}

// UserRepoFactory создаёт репозиторий пользователей над DBTX
// (пул или транзакция).
type UserRepoFactory func(db repository.DBTX) repository.UserRepository

// LoginService — bootstrap и линковка при OIDC-логине.
type LoginService struct {
	tx              TxRunner
	users           repository.UserRepository
	newRepo         UserRepoFactory
	controlPlane    ControlPlane
	defaultRole     capabilities.Role
	linkRemoteUsers bool
	logger          *slog.Logger
}

// NewLoginService создаёт сервис логина.
// users — репозиторий над пулом (для операций вне транзакций);
// newRepo — фабрика репозиториев для работы внутри транзакции;
// defaultRole — роль новых пользователей после появления владельца
// (HP_OIDC_DEFAULT_ROLE); linkRemoteUsers — HP_OIDC_LINK_REMOTE_USERS.
func NewLoginService(
	tx TxRunner,
	users repository.UserRepository,
	newRepo UserRepoFactory,
	controlPlane ControlPlane,
	defaultRole capabilities.Role,
	linkRemoteUsers bool,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		tx:              tx,
		users:           users,
		newRepo:         newRepo,
		controlPlane:    controlPlane,
		defaultRole:     defaultRole,
		linkRemoteUsers: linkRemoteUsers,
		logger:          logger.With(slog.String("component", "login_service")),
	}
}

// CompleteOIDCLogin завершает успешную внешнюю аутентификацию:
//  1. bootstrap-upsert локального пользователя (транзакционно);
//  2. при включённой линковке — поиск пользователя Headscale,
//     чей providerId оканчивается на subject, и merge-обновление связи.
//
// Ошибки линковки не валят логин: связь самовосстановится на
// следующем входе, когда удалённая сторона догонит.
func (s *LoginService) CompleteOIDCLogin(ctx context.Context, profile *auth.Profile) (*model.User, error) {
	if profile == nil || profile.Subject == "" {
		return nil, fmt.Errorf("%w: отсутствует subject", ErrValidation)
	}

	user, err := s.bootstrapUpsert(ctx, profile)
	if err != nil {
		return nil, err
	}

	if s.linkRemoteUsers {
		s.linkHeadscaleUser(ctx, user)
	}

	return user, nil
}

// bootstrapUpsert выполняет upsert пользователя с назначением маски
// в одной транзакции под advisory-блокировкой.
// Правила выбора маски:
//   - владельцев нет — маска владельца (включая повторный логин
//     существующего участника после удаления единственного владельца);
//   - пользователь уже существует — его текущая маска сохраняется;
//   - новый пользователь — маска роли по умолчанию.
func (s *LoginService) bootstrapUpsert(ctx context.Context, profile *auth.Profile) (*model.User, error) {
	user := &model.User{
		Subject:     profile.Subject,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		PictureURL:  profile.PictureURL,
	}

	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := s.newRepo(tx)

		// Сериализуем конкурирующие первые логины
		if err := repo.AcquireOwnerLock(ctx); err != nil {
			return err
		}

		owners, err := repo.CountByCapabilities(ctx, capabilities.OwnerMask())
		if err != nil {
			return err
		}

		existing, err := repo.GetBySubject(ctx, profile.Subject)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		user.Capabilities = decideMask(owners, existing, capabilities.RoleMask(s.defaultRole))

		return repo.UpsertRole(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap пользователя %s: %w", profile.Subject, err)
	}

	if user.Capabilities == capabilities.OwnerMask() {
		s.logger.Info("Пользователь имеет маску владельца",
			slog.String("subject", user.Subject),
		)
	}

	return user, nil
}

// decideMask выбирает маску прав при логине. Чистая функция.
func decideMask(ownerCount int, existing *model.User, defaultMask uint64) uint64 {
	if ownerCount == 0 {
		return capabilities.OwnerMask()
	}
	if existing != nil {
		// Повторный логин не понижает и не повышает права
		return existing.Capabilities
	}
	return defaultMask
}

// linkHeadscaleUser ищет пользователя Headscale, чей providerId
// оканчивается на subject, и merge-обновляет связь. Промах или
// недоступность Headscale оставляют существующую связь нетронутой.
func (s *LoginService) linkHeadscaleUser(ctx context.Context, user *model.User) {
	remote, err := s.controlPlane.ListUsers(ctx)
	if err != nil {
		s.logger.Warn("Линковка пропущена: Headscale недоступен",
			slog.String("subject", user.Subject),
			slog.String("error", err.Error()),
		)
		return
	}

	var matched *headscale.User
	for i := range remote {
		key, ok := ExtractSubject(remote[i].ProviderID)
		if ok && key == user.Subject {
			matched = &remote[i]
			break
		}
	}
	if matched == nil {
		// Связь не рвётся отсутствием совпадения: пользователь
		// Headscale может ещё не существовать
		return
	}

	if user.HeadscaleUserID != nil && *user.HeadscaleUserID == matched.ID {
		return
	}

	if err := s.users.SetHeadscaleUserID(ctx, user.Subject, matched.ID); err != nil {
		s.logger.Warn("Не удалось обновить связь с пользователем Headscale",
			slog.String("subject", user.Subject),
			slog.String("headscale_user_id", matched.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	user.HeadscaleUserID = &matched.ID
	s.logger.Info("Пользователь связан с Headscale",
		slog.String("subject", user.Subject),
		slog.String("headscale_user_id", matched.ID),
	)
}

// ExtractSubject извлекает ключ линковки из providerId: подстрока
// после последнего '/'. Пустой providerId — ключа нет (ok == false).
// providerId без '/' целиком является ключом; "oidc/" даёт пустой,
// но присутствующий ключ.
func ExtractSubject(providerID string) (string, bool) {
	if providerID == "" {
		return "", false
	}
	idx := strings.LastIndex(providerID, "/")
	if idx < 0 {
		return providerID, true
	}
	return providerID[idx+1:], true
}

// preauthkeys.go — агрегатор pre-auth ключей по владельцам.
//
// Предпочитает bulk-листинг (один запрос на всех пользователей);
// старые версии Headscale его не поддерживают — тогда выполняется
// по одному конкурентному запросу на пользователя, отказы изолируются
// per-user и возвращаются рядом с успешными данными.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/drifterza/headplane/internal/headscale"
)

// Метрики агрегатора.
var (
	preAuthKeyListDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hp_preauthkey_list_duration_seconds",
			Help:    "Длительность агрегации pre-auth ключей.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	preAuthKeyFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hp_preauthkey_fallback_total",
			Help: "Количество переходов агрегатора на per-user fallback.",
		},
	)
)

// KeyGroup — группа ключей одного владельца.
// Owner == nil — tag-scoped ключи (владелец отсутствует).
type KeyGroup struct {
	Owner *headscale.User        `json:"owner"`
	Keys  []headscale.PreAuthKey `json:"keys"`
}

// FetchFailure — отказ запроса ключей одного пользователя.
type FetchFailure struct {
	User headscale.User `json:"user"`
	Err  error          `json:"-"`
}

// PreAuthKeyLister — минимальный интерфейс Headscale для агрегатора.
type PreAuthKeyLister interface {
	ListAllPreAuthKeys(ctx context.Context) ([]headscale.PreAuthKey, error)
	ListPreAuthKeys(ctx context.Context, userID string) ([]headscale.PreAuthKey, error)
}

// PreAuthKeyService — агрегатор pre-auth ключей.
type PreAuthKeyService struct {
	controlPlane PreAuthKeyLister
	logger       *slog.Logger
}

// NewPreAuthKeyService создаёт агрегатор.
func NewPreAuthKeyService(controlPlane PreAuthKeyLister, logger *slog.Logger) *PreAuthKeyService {
	return &PreAuthKeyService{
		controlPlane: controlPlane,
		logger:       logger.With(slog.String("component", "preauthkey_service")),
	}
}

// List возвращает детерминированную группировку ключей по владельцам.
// Порядок групп: tag-scoped (Owner == nil) первой, если непуста, затем
// по одной группе на переданного пользователя в переданном порядке;
// группы без ключей опускаются. Любой отказ bulk-листинга (включая
// неподдерживаемый endpoint) молча переключает на fallback и наружу
// не отдаётся. В fallback-режиме отказы отдельных пользователей
// собираются в список FetchFailure, не прерывая остальных.
func (s *PreAuthKeyService) List(ctx context.Context, users []headscale.User) ([]KeyGroup, []FetchFailure, error) {
	start := time.Now()

	keys, err := s.controlPlane.ListAllPreAuthKeys(ctx)
	if err == nil {
		groups := groupBulk(keys, users)
		preAuthKeyListDuration.WithLabelValues("bulk").Observe(time.Since(start).Seconds())
		return groups, nil, nil
	}

	// Отказ bulk — ожидаемое событие (version skew), не ошибка вызова
	s.logger.Debug("Bulk-листинг недоступен, переход на per-user fallback",
		slog.String("error", err.Error()),
	)
	preAuthKeyFallbackTotal.Inc()

	groups, failures, err := s.listPerUser(ctx, users)
	preAuthKeyListDuration.WithLabelValues("fallback").Observe(time.Since(start).Seconds())
	return groups, failures, err
}

// groupBulk группирует результат bulk-листинга: tag-scoped ключи
// первыми, затем ключи каждого переданного пользователя по его ID.
func groupBulk(keys []headscale.PreAuthKey, users []headscale.User) []KeyGroup {
	var tagScoped []headscale.PreAuthKey
	byUser := make(map[string][]headscale.PreAuthKey)
	for _, k := range keys {
		if k.User == nil {
			tagScoped = append(tagScoped, k)
			continue
		}
		byUser[k.User.ID] = append(byUser[k.User.ID], k)
	}

	var groups []KeyGroup
	if len(tagScoped) > 0 {
		groups = append(groups, KeyGroup{Owner: nil, Keys: tagScoped})
	}
	for i := range users {
		userKeys := byUser[users[i].ID]
		if len(userKeys) == 0 {
			continue
		}
		groups = append(groups, KeyGroup{Owner: &users[i], Keys: userKeys})
	}
	return groups
}

// listPerUser выполняет по одному конкурентному запросу на пользователя.
// Порядок результата определяется переданным списком, а не порядком
// завершения горутин. Tag-scoped группа в этом режиме недостижима.
func (s *PreAuthKeyService) listPerUser(ctx context.Context, users []headscale.User) ([]KeyGroup, []FetchFailure, error) {
	type result struct {
		keys []headscale.PreAuthKey
		err  error
	}
	results := make([]result, len(users))

	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys, err := s.controlPlane.ListPreAuthKeys(ctx, users[i].ID)
			results[i] = result{keys: keys, err: err}
		}(i)
	}
	wg.Wait()

	// Отмена запроса: частичные результаты отбрасываются
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	var groups []KeyGroup
	var failures []FetchFailure
	for i := range users {
		if results[i].err != nil {
			failures = append(failures, FetchFailure{User: users[i], Err: results[i].err})
			continue
		}
		if len(results[i].keys) == 0 {
			continue
		}
		groups = append(groups, KeyGroup{Owner: &users[i], Keys: results[i].keys})
	}
	return groups, failures, nil
}

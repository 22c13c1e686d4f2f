package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/drifterza/headplane/internal/headscale"
)

// fakeKeyLister — фейковый Headscale для агрегатора.
type fakeKeyLister struct {
	mu sync.Mutex

	bulkKeys []headscale.PreAuthKey
	bulkErr  error

	perUser    map[string][]headscale.PreAuthKey
	perUserErr map[string]error

	bulkCalls    int
	perUserCalls int
}

func (f *fakeKeyLister) ListAllPreAuthKeys(_ context.Context) ([]headscale.PreAuthKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	return f.bulkKeys, f.bulkErr
}

func (f *fakeKeyLister) ListPreAuthKeys(_ context.Context, userID string) ([]headscale.PreAuthKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perUserCalls++
	if err, ok := f.perUserErr[userID]; ok {
		return nil, err
	}
	return f.perUser[userID], nil
}

var (
	user1 = headscale.User{ID: "1", Name: "alice"}
	user2 = headscale.User{ID: "2", Name: "bob"}
	user3 = headscale.User{ID: "3", Name: "carol"}
)

func TestList_BulkGrouping(t *testing.T) {
	// Один tag-scoped ключ и по одному ключу у двух пользователей
	lister := &fakeKeyLister{
		bulkKeys: []headscale.PreAuthKey{
			{ID: "k2", User: &user2},
			{ID: "k0"},
			{ID: "k1", User: &user1},
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())

	groups, failures, err := svc.List(context.Background(), []headscale.User{user1, user2})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("в bulk-режиме не должно быть failures: %v", failures)
	}
	if len(groups) != 3 {
		t.Fatalf("групп %d, хотели 3", len(groups))
	}

	// Порядок: [null-owner, user1, user2] независимо от порядка листинга
	if groups[0].Owner != nil {
		t.Error("первая группа должна быть tag-scoped (Owner == nil)")
	}
	if groups[0].Keys[0].ID != "k0" {
		t.Errorf("tag-scoped группа содержит %q", groups[0].Keys[0].ID)
	}
	if groups[1].Owner == nil || groups[1].Owner.ID != "1" || groups[1].Keys[0].ID != "k1" {
		t.Error("вторая группа должна принадлежать user1 с ключом k1")
	}
	if groups[2].Owner == nil || groups[2].Owner.ID != "2" || groups[2].Keys[0].ID != "k2" {
		t.Error("третья группа должна принадлежать user2 с ключом k2")
	}
}

func TestList_BulkSkipsEmptyGroups(t *testing.T) {
	lister := &fakeKeyLister{
		bulkKeys: []headscale.PreAuthKey{
			{ID: "k1", User: &user1},
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())

	groups, _, err := svc.List(context.Background(), []headscale.User{user1, user2})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	// user2 без ключей и пустой tag-scoped bucket опускаются
	if len(groups) != 1 {
		t.Fatalf("групп %d, хотели 1", len(groups))
	}
	if groups[0].Owner == nil || groups[0].Owner.ID != "1" {
		t.Error("единственная группа должна принадлежать user1")
	}
}

func TestList_FallbackOnBulkFailure(t *testing.T) {
	lister := &fakeKeyLister{
		bulkErr: headscale.ErrUnsupportedEndpoint,
		perUser: map[string][]headscale.PreAuthKey{
			"1": {{ID: "k1"}},
			"2": {{ID: "k2"}},
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())

	groups, failures, err := svc.List(context.Background(), []headscale.User{user1, user2})
	if err != nil {
		t.Fatalf("отказ bulk не должен отдаваться наружу: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("failures = %v, хотели пусто", failures)
	}
	if len(groups) != 2 {
		t.Fatalf("групп %d, хотели 2", len(groups))
	}
	if groups[0].Owner.ID != "1" || groups[1].Owner.ID != "2" {
		t.Error("порядок групп должен повторять переданный список пользователей")
	}
	if lister.perUserCalls != 2 {
		t.Errorf("per-user запросов %d, хотели 2", lister.perUserCalls)
	}
}

func TestList_FallbackOnTransientBulkError(t *testing.T) {
	// Любой отказ bulk — не только неподдерживаемый endpoint — ведёт в fallback
	lister := &fakeKeyLister{
		bulkErr: errors.New("connection reset"),
		perUser: map[string][]headscale.PreAuthKey{
			"1": {{ID: "k1"}},
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())

	groups, _, err := svc.List(context.Background(), []headscale.User{user1})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("групп %d, хотели 1", len(groups))
	}
}

func TestList_FallbackIsolatesFailures(t *testing.T) {
	lister := &fakeKeyLister{
		bulkErr: headscale.ErrUnsupportedEndpoint,
		perUser: map[string][]headscale.PreAuthKey{
			"1": {{ID: "k1"}},
			"3": {{ID: "k3"}},
		},
		perUserErr: map[string]error{
			"2": errors.New("timeout"),
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())

	groups, failures, err := svc.List(context.Background(), []headscale.User{user1, user2, user3})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("групп %d, хотели 2", len(groups))
	}
	if groups[0].Owner.ID != "1" || groups[1].Owner.ID != "3" {
		t.Error("успешные группы должны сохранить порядок переданного списка")
	}

	if len(failures) != 1 {
		t.Fatalf("failures %d, хотели 1", len(failures))
	}
	if failures[0].User.ID != "2" {
		t.Errorf("failure для пользователя %q, хотели %q", failures[0].User.ID, "2")
	}
	if failures[0].Err == nil {
		t.Error("failure должен содержать ошибку")
	}
}

func TestList_ContextCancelled(t *testing.T) {
	lister := &fakeKeyLister{
		bulkErr: headscale.ErrUnsupportedEndpoint,
		perUser: map[string][]headscale.PreAuthKey{
			"1": {{ID: "k1"}},
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	groups, failures, err := svc.List(ctx, []headscale.User{user1})
	if err == nil {
		t.Fatal("отменённый контекст должен вернуть ошибку")
	}
	// Частичные результаты отбрасываются
	if groups != nil || failures != nil {
		t.Error("при отмене частичные результаты не возвращаются")
	}
}

func TestList_Idempotent(t *testing.T) {
	lister := &fakeKeyLister{
		bulkKeys: []headscale.PreAuthKey{
			{ID: "k0"},
			{ID: "k1", User: &user1},
		},
	}
	svc := NewPreAuthKeyService(lister, testLogger())
	users := []headscale.User{user1}

	first, _, err := svc.List(context.Background(), users)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	second, _, err := svc.List(context.Background(), users)
	if err != nil {
		t.Fatalf("List() повторно ошибка: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("повторный вызов дал другое число групп: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if (first[i].Owner == nil) != (second[i].Owner == nil) {
			t.Errorf("группа %d: владелец отличается между вызовами", i)
		}
		if len(first[i].Keys) != len(second[i].Keys) {
			t.Errorf("группа %d: число ключей отличается между вызовами", i)
		}
	}
}

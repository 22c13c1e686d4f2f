// models.go — структуры данных Headscale REST API.
package headscale

import "time"

// User — пользователь Headscale.
// ProviderID имеет форму "<issuer-path>/<subject>" для пользователей,
// созданных через OIDC; для локальных пользователей поле пустое.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	ProviderID  string    `json:"providerId,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// APIKey — API-ключ Headscale. Prefix возвращается сервером
// частично скрытым: часть символов заменена на '*'.
type APIKey struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Expiration *time.Time `json:"expiration,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
}

// PreAuthKey — ключ предварительной аутентификации узлов.
// User == nil означает tag-scoped ключ (владелец — политика тегов).
type PreAuthKey struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	User       *User      `json:"user,omitempty"`
	Reusable   bool       `json:"reusable"`
	Ephemeral  bool       `json:"ephemeral"`
	Used       bool       `json:"used"`
	Expiration *time.Time `json:"expiration,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ACLTags    []string   `json:"aclTags,omitempty"`
}

// Node — зарегистрированный узел сети.
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	User      *User     `json:"user,omitempty"`
	NodeKey   string    `json:"nodeKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsExpired — чистая производная классификация ключа:
// использованный одноразовый ключ или истёкший срок действия.
// Пересчитывается при каждом вызове, не кэшируется.
func (k *PreAuthKey) IsExpired(now time.Time) bool {
	if k.Used && !k.Reusable {
		return true
	}
	return k.Expiration != nil && !now.Before(*k.Expiration)
}

// IsActive — ключ пригоден к использованию:
// срок действия задан и не истёк, ключ не использован либо многоразовый.
func (k *PreAuthKey) IsActive(now time.Time) bool {
	if k.Expiration == nil || !now.Before(*k.Expiration) {
		return false
	}
	return !k.Used || k.Reusable
}

// --- Структуры запросов/ответов ---

type usersResponse struct {
	Users []User `json:"users"`
}

type apiKeysResponse struct {
	APIKeys []APIKey `json:"apiKeys"`
}

type preAuthKeysResponse struct {
	PreAuthKeys []PreAuthKey `json:"preAuthKeys"`
}

type preAuthKeyResponse struct {
	PreAuthKey PreAuthKey `json:"preAuthKey"`
}

type userResponse struct {
	User User `json:"user"`
}

type nodeResponse struct {
	Node Node `json:"node"`
}

type createUserRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

type createPreAuthKeyRequest struct {
	User       string     `json:"user,omitempty"`
	Reusable   bool       `json:"reusable"`
	Ephemeral  bool       `json:"ephemeral"`
	Expiration *time.Time `json:"expiration,omitempty"`
	ACLTags    []string   `json:"aclTags,omitempty"`
}

type expirePreAuthKeyRequest struct {
	User string `json:"user"`
	Key  string `json:"key"`
}

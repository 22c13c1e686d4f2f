// Пакет model — доменные модели Headplane.
package model

import "time"

// User — локальная учётная запись пользователя веб-интерфейса.
// Связана с внешним IdP через Subject (уникальный) и с пользователем
// Headscale через HeadscaleUserID (слабая ссылка: может указывать
// на несуществующего пользователя и никогда не обязана разрешаться).
type User struct {
	ID              string     `json:"id"`
	Subject         string     `json:"subject"`
	Capabilities    uint64     `json:"capabilities"`
	Onboarded       bool       `json:"onboarded"`
	HeadscaleUserID *string    `json:"headscale_user_id,omitempty"`
	Email           string     `json:"email,omitempty"`
	DisplayName     string     `json:"display_name,omitempty"`
	PictureURL      string     `json:"picture_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

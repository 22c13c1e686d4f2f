// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — операция запрещена. Текст намеренно общий:
	// конкретное недостающее право наружу не называется.
	ErrForbidden = errors.New("операция запрещена")
	// ErrControlPlaneUnavailable — Headscale недоступен.
	ErrControlPlaneUnavailable = errors.New("control plane недоступен")
)

// Пакет service — бизнес-логика модуля приёма архивов: приём загрузок,
// обработка архива (обход, проверка, построение, фиксация), удаление
// и восстановление после сбоев.
package service

import (
	"errors"

	"github.com/ahmed-826/distribution-platform/internal/builder"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — состояние ресурса не допускает операцию.
	ErrConflict = errors.New("конфликт состояния ресурса")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — ресурс принадлежит другому пользователю.
	ErrForbidden = errors.New("доступ к ресурсу запрещён")
	// ErrTooLarge — архив превышает допустимый размер.
	ErrTooLarge = errors.New("архив превышает допустимый размер")
	// ErrDuplicateUpload — архив с таким содержимым уже загружен.
	ErrDuplicateUpload = errors.New("архив с таким содержимым уже загружен")
	// ErrDuplicateContent — карточка с таким основным документом уже есть.
	ErrDuplicateContent = errors.New("документ уже загружен")
	// ErrPathCollision — путь хранения занят другой записью или файлом.
	// При фиксации фатальна для запуска обработки.
	ErrPathCollision = builder.ErrPathCollision
	// ErrFatal — обработка загрузки прервана целиком.
	ErrFatal = errors.New("фатальная ошибка обработки")
)

package manifest

import "fmt"

// ReasonCode — машиночитаемая причина отклонения продукта.
type ReasonCode string

const (
	ReasonInvalidManifest      ReasonCode = "INVALID_MANIFEST"
	ReasonMissingField         ReasonCode = "MISSING_FIELD"
	ReasonInvalidDate          ReasonCode = "INVALID_DATE"
	ReasonFileCountMismatch    ReasonCode = "FILE_COUNT_MISMATCH"
	ReasonMissingSourceFile    ReasonCode = "MISSING_SOURCE_FILE"
	ReasonInvalidMessageMeta   ReasonCode = "INVALID_MESSAGE_META"
	ReasonMissingParent        ReasonCode = "MISSING_PARENT"
	ReasonMissingParentMessage ReasonCode = "MISSING_PARENT_MESSAGE"
	ReasonUnknownSource        ReasonCode = "UNKNOWN_SOURCE"
	ReasonDuplicateContent     ReasonCode = "DUPLICATE_CONTENT"
)

// Rejection — продукт отклонён проверкой манифеста.
// Не фатально: обработка архива продолжается со следующей папки.
type Rejection struct {
	Code ReasonCode
	// Field — путь к полю манифеста (files[2].meta.from), если применимо
	Field   string
	Message string
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s (%s): %s", r.Code, r.Field, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func reject(code ReasonCode, field, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                 = "UNKNOWN"
	CodeInvalidArgument         = "CACHE_INVALID_ARGUMENT"
	CodeSerialization           = "CACHE_SERIALIZATION"
	CodeConstraintViolation     = "CACHE_CONSTRAINT_VIOLATION"
	CodeBackingStoreUnavailable = "CACHE_BACKING_STORE_UNAVAILABLE"
)

var enUSMessages = map[Code]string{
	CodeUnknown:                 "An unexpected error occurred.",
	CodeInvalidArgument:         "{{if .Field}}Invalid value for {{.Field}}.{{else}}Invalid request.{{end}}",
	CodeSerialization:           "The value could not be stored.",
	CodeConstraintViolation:     "{{if .Key}}The key {{.Key}} already exists.{{else}}The record already exists.{{end}}",
	CodeBackingStoreUnavailable: "The cache is temporarily unavailable. Please try again.",
}

var ptBRMessages = map[Code]string{
	CodeUnknown:                 "Ocorreu um erro inesperado.",
	CodeInvalidArgument:         "{{if .Field}}Valor inválido para {{.Field}}.{{else}}Requisição inválida.{{end}}",
	CodeSerialization:           "O valor não pôde ser armazenado.",
	CodeConstraintViolation:     "{{if .Key}}A chave {{.Key}} já existe.{{else}}O registro já existe.{{end}}",
	CodeBackingStoreUnavailable: "O cache está temporariamente indisponível. Tente novamente.",
}

// Package api встраивает OpenAPI-описание REST API (отдаётся по /swagger/openapi.json).
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte

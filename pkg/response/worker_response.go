// Package response provides the JSON envelope used by the operator API.
package response

import (
	"reflect"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Standard API Response
// =============================================================================

// Response is the standard API response structure.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries list metadata.
type Meta struct {
	Total   int  `json:"total,omitempty"`
	Limit   int  `json:"limit,omitempty"`
	HasMore bool `json:"has_more,omitempty"`
}

// =============================================================================
// Response Builders
// =============================================================================

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

// Accepted is returned when a run was started in the background.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, "BAD_REQUEST", message)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, "NOT_FOUND", message)
}

// =============================================================================
// Field Selection (Sparse Fieldsets)
// =============================================================================

// SelectFields filters struct fields by the ?fields= query parameter.
// Usage: GET /api/v1/reports?fields=run_id,status,started_at
func SelectFields(c *fiber.Ctx, data any) any {
	fieldsParam := c.Query("fields")
	if fieldsParam == "" {
		return data
	}

	fieldSet := make(map[string]bool)
	for _, f := range strings.Split(fieldsParam, ",") {
		if f = strings.TrimSpace(strings.ToLower(f)); f != "" {
			fieldSet[f] = true
		}
	}
	if len(fieldSet) == 0 {
		return data
	}
	return filterFields(data, fieldSet)
}

func filterFields(data any, fields map[string]bool) any {
	if data == nil {
		return nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		result := make([]map[string]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if m := filterStructFields(v.Index(i), fields); m != nil {
				result = append(result, m)
			}
		}
		return result
	case reflect.Struct:
		return filterStructFields(v, fields)
	default:
		return data
	}
}

func filterStructFields(v reflect.Value, fields map[string]bool) map[string]any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	result := make(map[string]any)
	for i := 0; i < v.NumField(); i++ {
		jsonTag := t.Field(i).Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		jsonName := strings.Split(jsonTag, ",")[0]
		if fields[strings.ToLower(jsonName)] {
			result[jsonName] = v.Field(i).Interface()
		}
	}
	return result
}

// =============================================================================
// Limit Helper
// =============================================================================

// Limit reads ?limit= clamped to [1, maxLimit].
func Limit(c *fiber.Ctx, defaultLimit, maxLimit int) int {
	limit := c.QueryInt("limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

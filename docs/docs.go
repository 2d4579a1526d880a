// Package docs registers the generated OpenAPI spec with
// swaggo/http-swagger's UI. Hand-maintained instead of swag-generated
// since this tree is never built; keep it in sync with the @Router
// annotations in internal/handler when routes change.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{escape .Title}}",
        "description": "{{escape .Description}}",
        "termsOfService": "http://swagger.io/terms/",
        "contact": {
            "name": "API Support"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/notifications": {
            "get": {
                "tags": ["notifications"],
                "summary": "List notifications",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["notifications"],
                "summary": "Submit a notification",
                "responses": {"201": {"description": "Created"}, "200": {"description": "Idempotent replay"}}
            }
        },
        "/v1/notifications/bulk": {
            "post": {
                "tags": ["notifications"],
                "summary": "Submit a batch of notifications",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/notifications/scheduled": {
            "post": {
                "tags": ["notifications"],
                "summary": "Submit a scheduled notification",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/v1/notifications/scheduled/bulk": {
            "post": {
                "tags": ["notifications"],
                "summary": "Submit a batch of scheduled notifications",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/notifications/{messageID}": {
            "get": {
                "tags": ["notifications"],
                "summary": "Get a notification",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            },
            "delete": {
                "tags": ["notifications"],
                "summary": "Cancel a notification",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/notifications/{messageID}/history": {
            "get": {
                "tags": ["notifications"],
                "summary": "Get a notification's status history",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/v1/templates": {
            "get": {
                "tags": ["templates"],
                "summary": "List templates",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["templates"],
                "summary": "Create template",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/v1/templates/{id}": {
            "get": {
                "tags": ["templates"],
                "summary": "Get template by ID",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            },
            "put": {
                "tags": ["templates"],
                "summary": "Update template",
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "tags": ["templates"],
                "summary": "Delete template",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/templates/name/{name}": {
            "get": {
                "tags": ["templates"],
                "summary": "Get template by name",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/metrics/realtime": {
            "get": {
                "tags": ["metrics"],
                "summary": "Real-time queue metrics",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "Dispatch API",
	Description:      "Multi-tenant notification dispatch platform.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

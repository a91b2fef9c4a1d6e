// Package apidoc holds the Swagger document for the tilestream HTTP API.
// Regenerate with `swag init -g cmd/tilestreamd/docs.go -o internal/apidoc`.
package apidoc

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "tilestream maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/images": {
            "get": {
                "produces": ["application/json"],
                "summary": "List ingested images",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImagesResponse"}}
                }
            }
        },
        "/images/{imageID}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get an image descriptor",
                "parameters": [
                    {"type": "string", "name": "imageID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ImageDescriptor"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/images/{imageID}/tiles/{level}/{x}/{y}": {
            "get": {
                "produces": ["image/png"],
                "summary": "Fetch one encoded tile",
                "parameters": [
                    {"type": "string", "name": "imageID", "in": "path", "required": true},
                    {"type": "integer", "name": "level", "in": "path", "required": true},
                    {"type": "integer", "name": "x", "in": "path", "required": true},
                    {"type": "integer", "name": "y", "in": "path", "required": true},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "PNG payload"},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/ingest": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Build and commit a pyramid from a server-side source image",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.IngestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.ImageDescriptor"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Ingestion records and serving counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 422},
                "error": {"type": "string", "example": "invalid image: zero area"}
            }
        },
        "types.IngestRequest": {
            "type": "object",
            "properties": {
                "image_id": {"type": "string", "example": "slide-0042"},
                "path": {"type": "string", "example": "/data/slides/slide-0042.tif"}
            }
        },
        "types.LevelInfo": {
            "type": "object",
            "properties": {
                "level": {"type": "integer", "example": 1},
                "width": {"type": "integer", "example": 2048},
                "height": {"type": "integer", "example": 2048},
                "scale": {"type": "number", "example": 0.5},
                "chunks_x": {"type": "integer", "example": 8},
                "chunks_y": {"type": "integer", "example": 8},
                "chunk_count": {"type": "integer", "example": 64}
            }
        },
        "types.ImageDescriptor": {
            "type": "object",
            "properties": {
                "image_id": {"type": "string", "example": "slide-0042"},
                "width": {"type": "integer", "example": 4096},
                "height": {"type": "integer", "example": 4096},
                "chunk_size": {"type": "integer", "example": 256},
                "total_chunks": {"type": "integer", "example": 85},
                "tile_format": {"type": "string", "example": "png"},
                "levels": {"type": "array", "items": {"$ref": "#/definitions/types.LevelInfo"}}
            }
        },
        "types.ImagesResponse": {
            "type": "object",
            "properties": {
                "images": {"type": "array", "items": {"$ref": "#/definitions/types.ImageDescriptor"}}
            }
        },
        "types.IngestStatus": {
            "type": "object",
            "properties": {
                "image_id": {"type": "string"},
                "state": {"type": "string", "example": "ready"},
                "source": {"type": "string"},
                "tiles": {"type": "integer"},
                "error": {"type": "string"},
                "updated_unix": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "images": {"type": "array", "items": {"$ref": "#/definitions/types.IngestStatus"}},
                "store_backend": {"type": "string", "example": "fs"},
                "cache_hit_ratio": {"type": "number", "example": 0.93},
                "tiles_served": {"type": "integer"},
                "ingests_total": {"type": "integer"},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "tilestream API",
	Description:      "Serves multi-resolution tile pyramids and ingests source images.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

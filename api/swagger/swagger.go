package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "EduNotice ops API",
        "description": "Crawl ingestion, notification runs and activity digests for lab cloud subscriptions",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Runs", "description": "Ingest-and-notify runs"},
        {"name": "Summary", "description": "Activity digest and ingestion watermark"},
        {"name": "Exports", "description": "Signed digest downloads"},
        {"name": "Health", "description": "Probes"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Health"],
                "summary": "Liveness and database readiness",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "Database unreachable"}
                }
            }
        },
        "/api/v1/runs": {
            "post": {
                "tags": ["Runs"],
                "summary": "Queue an ingest-and-notify run for a crawl CSV",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/RunEnvelope"}},
                    "400": {"description": "Invalid upload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run queue full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/runs/{id}": {
            "get": {
                "tags": ["Runs"],
                "summary": "Get the state of a queued run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RunEnvelope"}},
                    "404": {"description": "Unknown run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/summary": {
            "post": {
                "tags": ["Summary"],
                "summary": "Send the activity digest now",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "export", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Sent", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Delivery failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/watermark": {
            "get": {
                "tags": ["Summary"],
                "summary": "Completion time of the last successful ingestion",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a digest export via signed token",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "NoticeCounts": {
            "type": "object",
            "properties": {
                "new": {"type": "integer"},
                "update": {"type": "integer"},
                "expiry": {"type": "integer"},
                "usage": {"type": "integer"}
            }
        },
        "Run": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "source": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                "inserted": {"type": "integer"},
                "skipped": {"type": "integer"},
                "new": {"type": "integer"},
                "updated": {"type": "integer"},
                "counts": {"$ref": "#/definitions/NoticeCounts"},
                "watermark": {"type": "string", "format": "date-time"},
                "started_at": {"type": "string", "format": "date-time"},
                "finished_at": {"type": "string", "format": "date-time"},
                "error_message": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        },
        "RunEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/Run"},
                "error": {"$ref": "#/definitions/APIError"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

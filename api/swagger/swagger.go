package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Classroom Sync API",
        "description": "Imports classroom courses, rosters and coursework into local course records.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "tags": [
        {"name": "Classroom", "description": "Classroom integration and synchronization"},
        {"name": "Observability", "description": "Health and metrics"}
    ],
    "paths": {
        "/integrations/classroom/sync": {
            "post": {
                "tags": ["Classroom"],
                "summary": "Synchronize classroom courses",
                "description": "Imports the caller's classroom courses, rosters and coursework. A partial run answers 200 with meta.warning.",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Run report", "schema": {"$ref": "#/definitions/SyncReportEnvelope"}},
                    "401": {"description": "Reconnect required or token rejected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Classroom not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Sync in progress or classroom claimed by another account", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Every course failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/integrations/classroom/sync/async": {
            "post": {
                "tags": ["Classroom"],
                "summary": "Queue a classroom sync",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/integrations/classroom/sync/last": {
            "get": {
                "tags": ["Classroom"],
                "summary": "Last classroom sync report",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Cached report", "schema": {"$ref": "#/definitions/SyncReportEnvelope"}},
                    "404": {"description": "No report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/integrations/classroom/status": {
            "get": {
                "tags": ["Classroom"],
                "summary": "Classroom connection status",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Classroom not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/integrations/classroom": {
            "delete": {
                "tags": ["Classroom"],
                "summary": "Disconnect classroom",
                "description": "Removes the integration together with synced courses, enrollments and assignments.",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Removed row counts", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Classroom not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Sync in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/accounts/{id}/classroom/sync": {
            "post": {
                "tags": ["Classroom"],
                "summary": "Synchronize classroom courses for another account",
                "description": "Runs with ownership override; existing course owners are never reassigned.",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string", "description": "Account ID"}
                ],
                "responses": {
                    "200": {"description": "Run report", "schema": {"$ref": "#/definitions/SyncReportEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Sync in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/sync": {
            "get": {
                "tags": ["Observability"],
                "summary": "Sync run counters",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Counters"}
                }
            }
        }
    },
    "definitions": {
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
        "CourseConflict": {
            "type": "object",
            "properties": {
                "external_course_id": {"type": "string"},
                "name": {"type": "string"}
            }
        },
        "CourseFailure": {
            "type": "object",
            "properties": {
                "external_course_id": {"type": "string"},
                "name": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "SyncReport": {
            "type": "object",
            "properties": {
                "account_id": {"type": "string"},
                "success": {"type": "boolean"},
                "severity": {"type": "string", "enum": ["success", "partial", "failed"]},
                "message": {"type": "string"},
                "synced": {"type": "integer"},
                "skipped": {"type": "integer"},
                "errors": {"type": "integer"},
                "total": {"type": "integer"},
                "conflict_detected": {"type": "boolean"},
                "skipped_items": {"type": "integer"},
                "conflicts": {"type": "array", "items": {"$ref": "#/definitions/CourseConflict"}},
                "failures": {"type": "array", "items": {"$ref": "#/definitions/CourseFailure"}},
                "started_at": {"type": "string", "format": "date-time"},
                "finished_at": {"type": "string", "format": "date-time"}
            }
        },
        "SyncReportEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/SyncReport"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {
                    "type": "object",
                    "properties": {
                        "warning": {"type": "string"}
                    }
                }
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

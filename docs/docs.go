// Package docs описание API для /swagger по аннотациям обработчиков
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/cart": {
            "get": {
                "produces": ["application/json"],
                "tags": ["cart"],
                "summary": "Get cart",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.CartSnapshot"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["cart"],
                "summary": "Clear cart",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.CartSnapshot"}}
                }
            }
        },
        "/api/v1/cart/items": {
            "post": {
                "description": "Quantities add up with an existing line. Quantity defaults to 1.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["cart"],
                "summary": "Add item to cart",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "Line", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.addCartLineReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.CartSnapshot"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/cart/items/{item_id}": {
            "put": {
                "description": "Quantity 0 or below removes the line.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["cart"],
                "summary": "Set cart line quantity",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Item ID", "name": "item_id", "in": "path", "required": true},
                    {"description": "Quantity", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.updateCartLineReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.CartSnapshot"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["cart"],
                "summary": "Remove cart line",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Item ID", "name": "item_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.CartSnapshot"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/items": {
            "get": {
                "produces": ["application/json"],
                "tags": ["items"],
                "summary": "List items",
                "parameters": [
                    {"type": "string", "description": "Name contains", "name": "q", "in": "query"},
                    {"type": "string", "description": "Min price", "name": "min_price", "in": "query"},
                    {"type": "string", "description": "Max price", "name": "max_price", "in": "query"},
                    {"type": "boolean", "description": "Include inactive items", "name": "include_inactive", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Item"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["items"],
                "summary": "Create item",
                "parameters": [
                    {"description": "Item", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.createItemReq"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Item"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/items/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["items"],
                "summary": "Get item by id",
                "parameters": [
                    {"type": "integer", "description": "Item ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Item"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            },
            "put": {
                "description": "Replaces the item fields. Orders already placed keep their unit prices.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["items"],
                "summary": "Update item",
                "parameters": [
                    {"type": "integer", "description": "Item ID", "name": "id", "in": "path", "required": true},
                    {"description": "Update", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.updateItemReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Item"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            },
            "delete": {
                "description": "Items are referenced by order lines and are never deleted.",
                "produces": ["application/json"],
                "tags": ["items"],
                "summary": "Deactivate item",
                "parameters": [
                    {"type": "integer", "description": "Item ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Item"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/orders": {
            "get": {
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "List own orders",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.Order"}}}
                }
            },
            "post": {
                "description": "Turns the current cart into an order. A repeated Idempotency-Key returns the order created first with 200.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Checkout",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Idempotency key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Checkout", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.createOrderReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Order"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Order"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/orders/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Get order by id",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Order ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Order"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/orders/{id}/payment": {
            "post": {
                "description": "Applies a payment outcome. Without \"succeeded\" the payment simulator decides. Repeated calls on a settled order return it unchanged.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Pay for order",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Order ID", "name": "id", "in": "path", "required": true},
                    {"description": "Payment", "name": "input", "in": "body", "schema": {"$ref": "#/definitions/httpapi.paymentReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Order"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/api/v1/orders/{id}/payment/retry": {
            "post": {
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Retry failed payment",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Order ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Order"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpapi.errorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "domain.CartLineView": {
            "type": "object",
            "properties": {
                "available": {"type": "boolean"},
                "item_id": {"type": "integer"},
                "item_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "subtotal": {"type": "string"},
                "unit_price": {"type": "string"}
            }
        },
        "domain.CartSnapshot": {
            "type": "object",
            "properties": {
                "lines": {"type": "array", "items": {"$ref": "#/definitions/domain.CartLineView"}},
                "total_items": {"type": "integer"},
                "total_price": {"type": "string"},
                "updated_at": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "domain.Item": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"},
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "name": {"type": "string"},
                "price": {"type": "string"},
                "stock": {"type": "integer"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Order": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "lines": {"type": "array", "items": {"$ref": "#/definitions/domain.OrderLine"}},
                "notes": {"type": "string"},
                "order_number": {"type": "string"},
                "order_status": {"type": "string"},
                "payment_method": {"type": "string"},
                "payment_status": {"type": "string"},
                "shipping_address": {"type": "string"},
                "total_amount": {"type": "string"},
                "updated_at": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "domain.OrderLine": {
            "type": "object",
            "properties": {
                "item_id": {"type": "integer"},
                "item_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "subtotal": {"type": "string"},
                "unit_price": {"type": "string"}
            }
        },
        "httpapi.addCartLineReq": {
            "type": "object",
            "properties": {
                "item_id": {"type": "integer"},
                "quantity": {"type": "integer"}
            }
        },
        "httpapi.createItemReq": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "price": {"type": "string", "example": "19.99"},
                "stock": {"type": "integer"}
            }
        },
        "httpapi.createOrderReq": {
            "type": "object",
            "properties": {
                "notes": {"type": "string"},
                "payment_method": {"type": "string"},
                "shipping_address": {"type": "string"}
            }
        },
        "httpapi.errorResponse": {
            "type": "object",
            "properties": {
                "available": {"type": "integer"},
                "error": {"type": "string"},
                "item_id": {"type": "integer"},
                "item_name": {"type": "string"},
                "message": {"type": "string"},
                "requested": {"type": "integer"},
                "retryable": {"type": "boolean"}
            }
        },
        "httpapi.paymentReq": {
            "type": "object",
            "properties": {
                "card_last_four": {"type": "string"},
                "payment_method": {"type": "string"},
                "succeeded": {"type": "boolean"}
            }
        },
        "httpapi.updateCartLineReq": {
            "type": "object",
            "properties": {
                "quantity": {"type": "integer"}
            }
        },
        "httpapi.updateItemReq": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"},
                "name": {"type": "string"},
                "price": {"type": "string", "example": "19.99"},
                "stock": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Storefront API",
	Description:      "Cart, checkout and order payment service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/inferd/docs.go -o internal/httpapi/docs`.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API of the on-device inference daemon: capability routing, runner lifecycle, streaming inference and engine settings.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

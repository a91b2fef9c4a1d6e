package main

// General API documentation for swaggo. Regenerate internal/apidoc with
// `swag init -g cmd/tilestreamd/docs.go -o internal/apidoc`.
//
// @title           tilestream API
// @version         1.0
// @description     HTTP API serving multi-resolution tile pyramids of very large images.
//
// @contact.name   tilestream maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

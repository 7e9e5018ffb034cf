// Package httpapi exposes the conversion pipeline over HTTP.
//
// Routes:
//   - POST /api/upload: multipart field "file", converted synchronously
//   - GET /api/download/{filename}: a converted markdown file from the output dir
//   - POST /api/tables/{document}: spreadsheet export for a converted document
//   - GET /api/gpu: current telemetry and readiness verdict
//   - GET /health
//
// Errors are JSON objects of the form {"error": "..."} with the status code
// chosen by services.HTTPStatus.
package httpapi

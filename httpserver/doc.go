// Package httpserver exposes the store registry over HTTP.
//
// The API is a thin translation layer: request parameters become registry
// calls, registry errors become HTTP statuses, and image data streams
// through without buffering. Operational endpoints (livez, readyz,
// drain/undrain, optional pprof) follow the usual load-balancer protocol,
// and Prometheus metrics are served from a separate listener.
//
// Routes:
//
//	PUT    /v1/images/{id}          upload an image (store selected by ?store=)
//	POST   /v1/images               upload with a generated ID
//	GET    /v1/images/data          download (?location=)
//	HEAD   /v1/images/data          existence probe (?location=)
//	GET    /v1/images/size          size probe (?location=)
//	DELETE /v1/images/data          delete (?location=)
//	GET    /v1/schemes              list registered schemes
package httpserver

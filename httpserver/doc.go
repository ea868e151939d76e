/*
Package httpserver exposes the document storage router over HTTP.

Uploads are validated here (size limit and document type allow-list)
before they reach the router; everything after that, including backend
fallback, detection and the last-resort local write, is the router's job.

# Endpoints

  - POST /api/documents - multipart upload ("file", optional "key", "caseId", "uploadedBy")
  - GET /files/{key...} - stream a document; the route generated URLs fall back to
  - DELETE /api/documents?key=&backend=&bytesOnly= - delete from one or every backend
  - GET /api/documents/url?key=&backend=&expiry= - retrieval URL, never fails
  - GET /api/documents/info?key=&backend= - object metadata
  - POST /api/documents/migrate - copy a document between backends
  - GET /api/admin/usage - aggregated usage report
  - GET /livez, /drain, /undrain - liveness and drain control
  - GET /readyz - 503 while draining or when no backend is configured

# Errors

Responses carry {"error": "..."} with a generic message. Missing
documents are 404, bad keys and unknown backends 400, unconfigured
backends 503 and everything else 500. Backend error detail is logged only.
*/
package httpserver

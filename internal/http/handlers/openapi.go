package handlers

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
)

//go:embed openapi.json
var openAPISpec []byte

var (
	openAPIETag = func() string {
		sum := sha256.Sum256(openAPISpec)
		return `"` + hex.EncodeToString(sum[:8]) + `"`
	}()
	openAPITitle = func() string {
		var doc struct {
			Info struct {
				Title string `json:"title"`
			} `json:"info"`
		}
		if err := json.Unmarshal(openAPISpec, &doc); err != nil || doc.Info.Title == "" {
			return "API"
		}
		return doc.Info.Title
	}()
)

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>body{margin:0}redoc{display:block;height:100vh}</style>
</head>
<body>
<redoc spec-url="{{.SpecURL}}"></redoc>
<script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
</body>
</html>`))

// OpenAPIJSON serves the embedded API description with an ETag so clients
// can revalidate cheaply.
func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", openAPIETag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == openAPIETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(openAPISpec)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := docsPage.Execute(w, struct{ Title, SpecURL string }{openAPITitle, "/v1/openapi.json"})
	if err != nil {
		a.Logger.Error().Err(err).Msg("render api docs")
	}
}

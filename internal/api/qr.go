package api

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/bayup/wabridge/internal/status"
	"github.com/labstack/echo/v4"
)

const qrRefreshSeconds = 30

var qrPage = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>WhatsApp pairing</title>
{{- if .Refresh}}
<meta http-equiv="refresh" content="{{.Refresh}}">
{{- end}}
</head>
<body style="font-family: sans-serif; text-align: center; margin-top: 3em">
{{- if .Connected}}
<h1>Connected</h1>
<p>The WhatsApp session is ready.</p>
{{- else if .Image}}
<h1>Scan with WhatsApp</h1>
<p>Open WhatsApp, go to Linked devices and scan this code.</p>
<img src="{{.Image}}" alt="pairing QR code" width="256" height="256">
{{- else}}
<h1>Please wait</h1>
<p>Waiting for a pairing code. This page refreshes automatically.</p>
{{- end}}
</body>
</html>
`))

type qrPageData struct {
	Connected bool
	Image     template.URL
	Refresh   int
}

func (s *Server) getQRPage(c echo.Context) error {
	snap := s.state.Snapshot()
	var data qrPageData
	switch {
	case snap.State == status.Ready:
		data.Connected = true
	case snap.State == status.AwaitingScan && snap.Artifact != nil && snap.Artifact.Image != "":
		// Rendered data URLs only ever come from the pairing renderer.
		data.Image = template.URL(snap.Artifact.Image)
		data.Refresh = qrRefreshSeconds
	default:
		data.Refresh = qrRefreshSeconds
	}

	var buf bytes.Buffer
	if err := qrPage.Execute(&buf, data); err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

package server

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"net"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

var landingPage = template.Must(template.New("landing").Parse(`<html>
<head>
    <title>Sendrop</title>
    <link rel="stylesheet" href="local.css" />
</head>
<body>
    <img src="{{.QR}}" alt="QR Code" />
    <p>LAN Address: <a href="{{.URL}}">{{.URL}}</a></p>
</body>
</html>
`))

type landing struct {
	URL string
	QR  template.URL
}

// handleIndex shows the join QR code to the machine running the hub and
// sends everyone else to the app.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackHost(r.Host) {
		http.Redirect(w, r, "/main.html", http.StatusFound)
		return
	}

	ip, err := s.lanAddr()
	if err != nil {
		s.log.WithErr(err).Warn("no LAN address for landing page")
		http.Error(w, "no LAN address available", http.StatusServiceUnavailable)
		return
	}

	url := fmt.Sprintf("http://%s", net.JoinHostPort(ip.String(), fmt.Sprint(s.port())))

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		s.log.WithErr(err).Error("failed to render QR code")
		http.Error(w, "failed to render QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingPage.Execute(w, landing{
		URL: url,
		QR:  template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
	}); err != nil {
		s.log.WithErr(err).Warn("failed to write landing page")
	}
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}

	return host == "localhost" || host == "127.0.0.1"
}

package httpapi

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"larder.org/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{"index", "login", "signup", "forgot", "reset", "profile"}

var funcs = template.FuncMap{
	"lines": func(s string) []string { return strings.Split(s, "\n") },
}

type views map[string]*template.Template

func loadViews() (views, error) {
	v := make(views, len(pages))
	for _, p := range pages {
		t, err := template.New(p).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+p+".html")
		if err != nil {
			return nil, fmt.Errorf("httpapi: parse %s: %w", p, err)
		}
		v[p] = t
	}
	return v, nil
}

// signupForm refills the signup page after a rejected submission.
type signupForm struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// page is the data every template receives.
type page struct {
	Title   string
	User    *session.User
	CSRF    string
	Notice  string
	Message string
	Error   string

	Step  string
	Email string
	Token string
	Name  string
	Form  signupForm
}

// render writes the named page with status. Output is buffered so a
// template failure never leaves a half-written response.
func (a *API) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	if s := session.FromContext(r.Context()); s != nil && p.User == nil {
		p.User = s.User
	}
	var buf bytes.Buffer
	if err := a.views[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		a.log.Error("render_failed", zap.String("page", name), zap.Error(err))
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// text writes a plain-text body.
func text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

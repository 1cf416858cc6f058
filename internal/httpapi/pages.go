package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"larder.org/internal/session"
)

func (a *API) index(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "index", page{Title: "Home"})
}

// profile shows the logged-in user. Other slugs redirect to the caller's
// own profile.
func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	if chi.URLParam(r, "slug") != s.User.Slug {
		http.Redirect(w, r, "/profile/"+s.User.Slug, http.StatusFound)
		return
	}
	tok, ok := a.csrfToken(w, r)
	if !ok {
		return
	}
	p := page{Title: "Profile", User: s.User, CSRF: tok}
	if p.Message = s.PopFlash(); p.Message != "" {
		if !a.saveSession(w, r, s) {
			return
		}
	}
	a.render(w, r, http.StatusOK, "profile", p)
}

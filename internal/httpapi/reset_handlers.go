package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"larder.org/internal/auth"
)

func (a *API) forgotPage(w http.ResponseWriter, r *http.Request) {
	tok, ok := a.csrfToken(w, r)
	if !ok {
		return
	}
	a.render(w, r, http.StatusOK, "forgot", page{Title: "Forgot password", CSRF: tok})
}

// forgot answers a known and an unknown address with the same page.
func (a *API) forgot(w http.ResponseWriter, r *http.Request) {
	tok, ok := a.csrfToken(w, r)
	if !ok {
		return
	}
	p := page{Title: "Forgot password", CSRF: tok}
	if err := a.auth.RequestReset(r.Context(), r.PostFormValue("email"), meta(r)); err != nil {
		a.log.Error("reset_request_failed", zap.Error(err))
		p.Error = auth.MsgGeneric
		a.render(w, r, http.StatusInternalServerError, "forgot", p)
		return
	}
	p.Message = auth.MsgResetRequested
	a.render(w, r, http.StatusOK, "forgot", p)
}

func (a *API) resetPage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	name, err := a.auth.CheckResetToken(r.Context(), token)
	if err != nil {
		a.resetTokenFailed(w, err)
		return
	}
	tok, ok := a.csrfToken(w, r)
	if !ok {
		return
	}
	a.render(w, r, http.StatusOK, "reset", page{Title: "Reset password", Token: token, Name: name, CSRF: tok})
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	err := a.auth.ResetPassword(r.Context(), token,
		r.PostFormValue("password"), r.PostFormValue("confirmPassword"), meta(r))
	if err == nil {
		http.Redirect(w, r, "/login?reset=success", http.StatusFound)
		return
	}
	var verr *auth.ValidationError
	if !errors.As(err, &verr) {
		a.resetTokenFailed(w, err)
		return
	}
	tok, ok := a.csrfToken(w, r)
	if !ok {
		return
	}
	a.render(w, r, http.StatusBadRequest, "reset", page{Title: "Reset password", Token: token, CSRF: tok, Error: verr.Reason})
}

func (a *API) resetTokenFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrInvalidResetToken) {
		text(w, http.StatusBadRequest, auth.MsgInvalidResetToken)
		return
	}
	a.log.Error("reset_failed", zap.Error(err))
	text(w, http.StatusInternalServerError, auth.MsgGeneric)
}

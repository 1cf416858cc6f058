package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"larder.org/internal/auth"
	"larder.org/internal/session"
)

const (
	stepCredentials = "credentials"
	stepOTP         = "otp"

	noticeTimeout   = "Your session timed out. Please log in again."
	noticeIntegrity = "Your session was ended for your security. Please log in again."
	noticeReset     = "Your password has been reset. Please log in."
)

func (a *API) loginPage(w http.ResponseWriter, r *http.Request) {
	p := page{Title: "Log in", Step: stepCredentials}
	q := r.URL.Query()
	switch {
	case q.Get("integrity") == "1":
		p.Notice = noticeIntegrity
	case q.Get("timeout") == "1":
		p.Notice = noticeTimeout
	case q.Get("reset") == "success":
		p.Notice = noticeReset
	}
	a.render(w, r, http.StatusOK, "login", p)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		text(w, http.StatusBadRequest, auth.MsgGeneric)
		return
	}
	email := r.PostFormValue("email")
	if r.PostFormValue("step") == stepOTP {
		a.loginOTP(w, r, email)
		return
	}

	s := session.FromContext(r.Context())
	pending, err := a.auth.Login(r.Context(), auth.LoginInput{
		Email:    email,
		Password: r.PostFormValue("password"),
		Meta:     meta(r),
	})
	if err != nil {
		a.loginFailed(w, r, err, stepCredentials, email)
		return
	}
	u := toUser(pending.Identity)
	s.Pending = &u
	if !a.saveSession(w, r, s) {
		return
	}
	a.render(w, r, http.StatusOK, "login", page{Title: "Log in", Step: stepOTP, Email: email})
}

func (a *API) loginOTP(w http.ResponseWriter, r *http.Request, email string) {
	s := session.FromContext(r.Context())
	if s.Pending == nil {
		a.render(w, r, http.StatusUnauthorized, "login", page{
			Title: "Log in", Step: stepCredentials, Email: email, Error: auth.MsgInvalidOTP,
		})
		return
	}
	pending := toPending(s.Pending)

	if r.PostFormValue("resend") == "true" {
		if err := a.auth.ResendOTP(r.Context(), pending, meta(r)); err != nil {
			step := stepOTP
			var aerr *auth.AuthError
			if errors.As(err, &aerr) {
				step = stepCredentials
			}
			a.loginFailed(w, r, err, step, email)
			return
		}
		a.render(w, r, http.StatusOK, "login", page{Title: "Log in", Step: stepOTP, Email: email, Message: auth.MsgOTPResent})
		return
	}

	id, err := a.auth.VerifyOTP(r.Context(), pending, r.PostFormValue("otp"), meta(r))
	if err != nil {
		a.loginFailed(w, r, err, stepOTP, email)
		return
	}
	a.establish(w, r, id, "")
}

func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, err error, step, email string) {
	f := classify(err)
	if f.status == http.StatusInternalServerError {
		a.log.Error("login_failed", zap.Error(err))
	}
	f.writeHeaders(w)
	a.render(w, r, f.status, "login", page{Title: "Log in", Step: step, Email: email, Error: f.message})
}

func (a *API) signupPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "signup", page{Title: "Sign up"})
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		text(w, http.StatusBadRequest, auth.MsgGeneric)
		return
	}
	form := signupForm{
		FirstName: r.PostFormValue("fname"),
		LastName:  r.PostFormValue("lname"),
		Email:     r.PostFormValue("email"),
		Phone:     r.PostFormValue("phone"),
	}
	id, err := a.auth.Signup(r.Context(), auth.SignupInput{
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Email:        form.Email,
		Password:     r.PostFormValue("password"),
		PasswordConf: r.PostFormValue("passwordConf"),
		Phone:        form.Phone,
		Meta:         meta(r),
	})
	if err != nil {
		f := classify(err)
		if f.status == http.StatusInternalServerError {
			a.log.Error("signup_failed", zap.Error(err))
		}
		a.render(w, r, f.status, "signup", page{Title: "Sign up", Error: f.message, Form: form})
		return
	}
	a.establish(w, r, id, "Welcome, "+strings.TrimSpace(id.FirstName)+"!")
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	if err := a.sessions.Destroy(r.Context(), w, s); err != nil {
		a.log.Error("logout_failed", zap.Error(err))
		if s.Authenticated() {
			http.Redirect(w, r, "/profile/"+s.User.Slug, http.StatusFound)
			return
		}
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

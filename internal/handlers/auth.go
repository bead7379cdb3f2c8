package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/arunpravin125/Eduvance-api/internal/auth"
	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/models"
	"github.com/arunpravin125/Eduvance-api/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type Credentials struct {
	Username   string `json:"username" validate:"required,min=3,max=32"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	ProfilePic string `json:"profile_pic,omitempty" validate:"omitempty,url"`
}

type LoginResponse struct {
	User  models.Profile `json:"user"`
	Token string         `json:"token"`
}

type AuthHandler struct {
	Accounts store.Accounts
	Identity *auth.Identity

	validate *validator.Validate
	log      zerolog.Logger
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decode(w, r, h.validate, &creds); err != nil {
		writeError(w, h.log, err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	user := &models.User{
		Username:   strings.TrimSpace(creds.Username),
		Password:   string(hashedPassword),
		ProfilePic: creds.ProfilePic,
	}
	if err := h.Accounts.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, chaterr.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "username already exists", Kind: chaterr.Kind(err)})
			return
		}
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, user.Profile())
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := decode(w, r, h.validate, &creds); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.Accounts.GetUserByUsername(r.Context(), strings.TrimSpace(creds.Username))
	if err != nil && !errors.Is(err, chaterr.ErrNotFound) {
		writeError(w, h.log, err)
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials", Kind: "unauthorized"})
		return
	}

	token, err := h.Identity.Tokens.Issue(user.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	http.SetCookie(w, h.Identity.SessionCookie(user.ID))
	writeJSON(w, http.StatusOK, LoginResponse{User: user.Profile(), Token: token})
}

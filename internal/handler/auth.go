package handler

import (
	"context"  // provides context with cancellation for store calls
	"errors"   // errors.Is for repository sentinels
	"net/http" // HTTP status codes and primitives
	"strings"  // string manipulation utilities
	"time"     // timeouts for store calls

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/parkb/internal/config"     // app configuration
	"github.com/iliyamo/parkb/internal/middleware" // caller identity
	"github.com/iliyamo/parkb/internal/model"      // users and roles
	"github.com/iliyamo/parkb/internal/repository" // users and refresh tokens
	"github.com/iliyamo/parkb/internal/utils"      // helper functions (hashing, token issuing)
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg   config.Config
	Store repository.Store
}

func NewAuthHandler(cfg config.Config, store repository.Store) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Store: store}
}

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type registerReq struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CarNumber string `json:"car_number"`
}

type contactReq struct {
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID        uint64     `json:"id"`
	Username  string     `json:"username"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	CarNumber string     `json:"car_number,omitempty"`
	Role      model.Role `json:"role"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func toUserPart(u model.User) userPart {
	return userPart{ID: u.ID, Username: u.Username, Name: u.Name, Email: u.Email, Phone: u.Phone, CarNumber: u.CarNumber, Role: u.Role}
}

// issue creates an access/refresh pair for u and stores the refresh hash.
func (h *AuthHandler) issue(ctx context.Context, tx repository.Tx, u model.User) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := tx.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    toUserPart(u),
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}

// Login: verify username and password and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var resp authResp
	errBadCreds := errors.New("invalid credentials")
	err := h.Store.InTx(ctx, func(tx repository.Tx) error {
		u, err := tx.UserByUsername(ctx, req.Username)
		if errors.Is(err, repository.ErrNotFound) {
			return errBadCreds
		}
		if err != nil {
			return err
		}
		if !utils.VerifyPassword(u.PasswordHash, req.Password) {
			return errBadCreds
		}
		resp, err = h.issue(ctx, tx, u)
		return err
	})
	switch {
	case errors.Is(err, errBadCreds):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case err != nil:
		c.Logger().Errorf("login: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh: validate by hash, revoke old, issue new.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var resp authResp
	err := h.Store.InTx(ctx, func(tx repository.Tx) error {
		userID, err := tx.ValidateRefresh(ctx, hash, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.RevokeByHash(ctx, hash); err != nil {
			return err
		}
		u, err := tx.UserByID(ctx, userID)
		if err != nil {
			return err
		}
		resp, err = h.issue(ctx, tx, u)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	case err != nil:
		c.Logger().Errorf("refresh: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout revokes one refresh token when the body carries it, otherwise all
// refresh tokens of the authenticated caller.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)
	uid, hasBearer := middleware.UserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	switch {
	case refreshToken != "":
		hash := utils.HashRefreshRaw(refreshToken)
		err := h.Store.InTx(ctx, func(tx repository.Tx) error {
			if _, err := tx.ValidateRefresh(ctx, hash, time.Now().UTC()); err != nil {
				return err
			}
			return tx.RevokeByHash(ctx, hash)
		})
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	case hasBearer:
		err := h.Store.InTx(ctx, func(tx repository.Tx) error {
			return tx.RevokeAllForUser(ctx, uid)
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide Authorization header or refresh_token"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var u model.User
	err := h.Store.InTx(c.Request().Context(), func(tx repository.Tx) error {
		var err error
		u, err = tx.UserByID(c.Request().Context(), uid)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	return c.JSON(http.StatusOK, toUserPart(u))
}

// UpdateMe changes the caller's phone and email. Omitted fields keep
// their value; neither may end up empty.
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req contactReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Phone == nil && req.Email == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "phone or email required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	errEmpty := errors.New("phone and email must not be empty")
	var u model.User
	err := h.Store.InTx(ctx, func(tx repository.Tx) error {
		cur, err := tx.UserByID(ctx, uid)
		if err != nil {
			return err
		}
		phone, email := cur.Phone, cur.Email
		if req.Phone != nil {
			phone = strings.TrimSpace(*req.Phone)
		}
		if req.Email != nil {
			email = strings.ToLower(strings.TrimSpace(*req.Email))
		}
		if phone == "" || email == "" {
			return errEmpty
		}
		if err := tx.UpdateContact(ctx, uid, phone, email); err != nil {
			return err
		}
		u, err = tx.UserByID(ctx, uid)
		return err
	})
	switch {
	case errors.Is(err, errEmpty):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case err != nil:
		c.Logger().Errorf("update contact: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, toUserPart(u))
}

// RegisterSubscriber lets staff create a subscriber account. The new user
// logs in with the given username and password.
func (h *AuthHandler) RegisterSubscriber(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	switch {
	case strings.TrimSpace(req.Name) == "":
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	case strings.TrimSpace(req.Phone) == "":
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "phone required"})
	case strings.TrimSpace(req.Email) == "":
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	case req.Username == "":
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username required"})
	}
	if err := utils.CheckPassword(req.Password); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must have at least 6 characters"})
	}
	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}
	u := model.User{
		Username:     req.Username,
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        strings.TrimSpace(req.Phone),
		CarNumber:    strings.TrimSpace(req.CarNumber),
		PasswordHash: hash,
		Role:         model.RoleSubscriber,
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	err = h.Store.InTx(ctx, func(tx repository.Tx) error { return tx.CreateUser(ctx, &u) })
	if errors.Is(err, repository.ErrDuplicate) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}
	return c.JSON(http.StatusCreated, toUserPart(u))
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/server/middleware"
	services "github.com/apimgr/weatherapi/src/server/service"
	"github.com/apimgr/weatherapi/src/utils"
)

// UsersHandler serves /users
type UsersHandler struct {
	accounts *services.AccountService
	logger   *utils.Logger
}

// NewUsersHandler creates the users handler
func NewUsersHandler(accounts *services.AccountService, logger *utils.Logger) *UsersHandler {
	return &UsersHandler{accounts: accounts, logger: logger}
}

// TokenResponse carries a freshly issued session token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// ItemRequest is the item creation payload
type ItemRequest struct {
	Title string `json:"title"`
}

// SendRequest names the recipient and the item to hand over
type SendRequest struct {
	UserLogin string `json:"user_login"`
	ItemID    int64  `json:"item_id"`
}

// SendResponse carries the link the recipient opens to take the item
type SendResponse struct {
	URL string `json:"url"`
}

// HandleSignup handles POST /users/signup
func (h *UsersHandler) HandleSignup(c *gin.Context) {
	var creds services.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondBadBody(c, err)
		return
	}

	raw, err := h.accounts.Signup(c.Request.Context(), creds)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, TokenResponse{AccessToken: raw})
}

// HandleLogin handles POST /users/login
func (h *UsersHandler) HandleLogin(c *gin.Context) {
	var creds services.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondBadBody(c, err)
		return
	}

	raw, err := h.accounts.Login(c.Request.Context(), creds)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{AccessToken: raw})
}

// HandleLogout handles POST /users/logout
func (h *UsersHandler) HandleLogout(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c)

	if err := h.accounts.Logout(c.Request.Context(), identity.Token); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleCreateItem handles POST /users/items/new
func (h *UsersHandler) HandleCreateItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadBody(c, err)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	item, err := h.accounts.CreateItem(c.Request.Context(), identity, req.Title)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

// HandleDeleteItem handles DELETE /users/items/:id
func (h *UsersHandler) HandleDeleteItem(c *gin.Context) {
	id, ok := itemIDParam(c, "id")
	if !ok {
		return
	}

	identity, _ := middleware.GetIdentity(c)
	if err := h.accounts.DeleteItem(c.Request.Context(), identity, id); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleListItems handles GET /users/items
func (h *UsersHandler) HandleListItems(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c)

	result, err := h.accounts.ListItems(c.Request.Context(), identity)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleSend handles POST /users/send
func (h *UsersHandler) HandleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadBody(c, err)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	link, err := h.accounts.SendItem(c.Request.Context(), identity, req.UserLogin, req.ItemID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, SendResponse{URL: link})
}

// HandleRedeem handles GET /users/:user_token/:item_id
func (h *UsersHandler) HandleRedeem(c *gin.Context) {
	id, ok := itemIDParam(c, "item_id")
	if !ok {
		return
	}

	identity, _ := middleware.GetIdentity(c)
	if err := h.accounts.RedeemTransfer(c.Request.Context(), identity, c.Param("user_token"), id); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func itemIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusUnprocessableEntity, ErrInvalidInput, "Invalid item id",
			map[string]interface{}{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

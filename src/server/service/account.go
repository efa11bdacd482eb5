package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/server/metrics"
	models "github.com/apimgr/weatherapi/src/server/model"
	"github.com/apimgr/weatherapi/src/utils"
)

var (
	hasDigit     = regexp.MustCompile(`[0-9]`)
	hasUppercase = regexp.MustCompile(`\p{Lu}`)
)

// Credentials is the signup and login payload
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// ValidateSignup applies the password policy: at least 8 characters, one
// digit and one uppercase letter
func (c Credentials) ValidateSignup() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Login, validation.Required, validation.Length(1, 150)),
		validation.Field(&c.Password,
			validation.Required,
			validation.Length(8, 0).Error("Password should be at least 8 chars"),
			validation.Match(hasDigit).Error("Password should contain at least one number"),
			validation.Match(hasUppercase).Error("Password should contain at least one capital letter"),
		),
	)
}

// ValidateLogin only requires both fields
func (c Credentials) ValidateLogin() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Login, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// UserPublic is the user as returned to clients
type UserPublic struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// ItemPublic is an item as returned to clients
type ItemPublic struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// UserItems is the item listing payload
type UserItems struct {
	User  UserPublic   `json:"user"`
	Items []ItemPublic `json:"items"`
}

// AccountService implements signup, login and item ownership
type AccountService struct {
	users      *models.UserModel
	items      *models.ItemModel
	gate       *auth.Gate
	backendURL string
	logger     *utils.Logger
}

// NewAccountService creates the account service. backendURL is the public
// base used in transfer links.
func NewAccountService(users *models.UserModel, items *models.ItemModel, gate *auth.Gate, backendURL string, logger *utils.Logger) *AccountService {
	return &AccountService{
		users:      users,
		items:      items,
		gate:       gate,
		backendURL: strings.TrimRight(backendURL, "/"),
		logger:     logger,
	}
}

// Signup creates a user and returns a session token
func (s *AccountService) Signup(ctx context.Context, creds Credentials) (string, error) {
	if err := creds.ValidateSignup(); err != nil {
		metrics.RecordAuthAttempt("signup", "invalid")
		return "", asValidationError(err)
	}

	hash, err := utils.HashPassword(creds.Password)
	if err != nil {
		return "", err
	}

	if _, err := s.users.Create(ctx, creds.Login, hash); err != nil {
		if errors.Is(err, models.ErrUserExists) {
			metrics.RecordAuthAttempt("signup", "conflict")
			s.logger.Audit(utils.AuditEvent{Action: "signup", Subject: creds.Login, Reason: "login exists"})
			return "", fmt.Errorf("%w: login %q", ErrConflict, creds.Login)
		}
		return "", err
	}

	s.logger.Info("SignUp a new user: %s", creds.Login)
	s.logger.Audit(utils.AuditEvent{Action: "signup", Subject: creds.Login, Success: true})
	metrics.RecordAuthAttempt("signup", "success")
	return s.gate.IssueSession(creds.Login)
}

// Login checks the credentials and returns a session token
func (s *AccountService) Login(ctx context.Context, creds Credentials) (string, error) {
	if err := creds.ValidateLogin(); err != nil {
		return "", asValidationError(err)
	}

	ok, err := s.checkUser(ctx, creds)
	if err != nil {
		return "", err
	}
	if !ok {
		metrics.RecordAuthAttempt("login", "failure")
		return "", ErrInvalidCredentials
	}

	s.logger.Audit(utils.AuditEvent{Action: "login", Subject: creds.Login, Success: true})
	metrics.RecordAuthAttempt("login", "success")
	return s.gate.IssueSession(creds.Login)
}

// checkUser reports whether the credentials match. Unknown users and wrong
// passwords are both (false, nil) but are audited with different reasons;
// only storage failures are errors.
func (s *AccountService) checkUser(ctx context.Context, creds Credentials) (bool, error) {
	user, err := s.users.GetByLogin(ctx, creds.Login)
	if errors.Is(err, models.ErrUserNotFound) {
		s.logger.Audit(utils.AuditEvent{Action: "login", Subject: creds.Login, Reason: "unknown user"})
		return false, nil
	}
	if err != nil {
		return false, err
	}

	match, err := utils.VerifyPassword(creds.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("Stored password hash for %s is unreadable: %v", creds.Login, err)
		s.logger.Audit(utils.AuditEvent{Action: "login", Subject: creds.Login, Reason: "corrupt hash"})
		return false, nil
	}
	if !match {
		s.logger.Audit(utils.AuditEvent{Action: "login", Subject: creds.Login, Reason: "bad password"})
		return false, nil
	}
	return true, nil
}

// Logout revokes the caller's session token
func (s *AccountService) Logout(ctx context.Context, raw string) error {
	if err := s.gate.Logout(ctx, raw); err != nil {
		return err
	}
	metrics.RecordRevocation("logout")
	metrics.RecordAuthAttempt("logout", "success")
	s.logger.Audit(utils.AuditEvent{Action: "logout", Success: true})
	return nil
}

// CreateItem adds an item owned by the caller
func (s *AccountService) CreateItem(ctx context.Context, owner auth.Identity, title string) (*ItemPublic, error) {
	if err := validation.Validate(title, validation.Required, validation.Length(1, 255)); err != nil {
		return nil, &ValidationError{Fields: validation.Errors{"title": err}}
	}

	user, err := s.caller(ctx, owner)
	if err != nil {
		return nil, err
	}

	item, err := s.items.Create(ctx, user.ID, title)
	if err != nil {
		if errors.Is(err, models.ErrItemExists) {
			return nil, fmt.Errorf("%w: item %q", ErrConflict, title)
		}
		return nil, err
	}

	s.logger.Info("Create item %d %q for %s", item.ID, item.Title, user.Login)
	return &ItemPublic{ID: item.ID, Title: item.Title}, nil
}

// DeleteItem removes an item the caller owns
func (s *AccountService) DeleteItem(ctx context.Context, owner auth.Identity, itemID int64) error {
	user, item, err := s.ownedItem(ctx, owner, itemID)
	if err != nil {
		return err
	}
	if err := s.items.Delete(ctx, item.ID); err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			return fmt.Errorf("%w: item %d", ErrNotFound, itemID)
		}
		return err
	}

	s.logger.Info("Delete item id: %d user_id: %d", item.ID, user.ID)
	return nil
}

// ListItems returns the caller and the items they own
func (s *AccountService) ListItems(ctx context.Context, owner auth.Identity) (*UserItems, error) {
	user, err := s.caller(ctx, owner)
	if err != nil {
		return nil, err
	}

	items, err := s.items.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	result := &UserItems{
		User:  UserPublic{ID: user.ID, Login: user.Login},
		Items: make([]ItemPublic, 0, len(items)),
	}
	for _, item := range items {
		result.Items = append(result.Items, ItemPublic{ID: item.ID, Title: item.Title})
	}
	return result, nil
}

// SendItem issues a transfer token for recipient and returns the link that
// redeems it
func (s *AccountService) SendItem(ctx context.Context, owner auth.Identity, recipient string, itemID int64) (string, error) {
	if err := validation.Validate(recipient, validation.Required); err != nil {
		return "", &ValidationError{Fields: validation.Errors{"user_login": err}}
	}

	user, item, err := s.ownedItem(ctx, owner, itemID)
	if err != nil {
		return "", err
	}

	if _, err := s.users.GetByLogin(ctx, recipient); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", fmt.Errorf("%w: user %q", ErrNotFound, recipient)
		}
		return "", err
	}

	transfer, err := s.gate.IssueTransfer(recipient, transferRef(item.ID, user.ID))
	if err != nil {
		return "", err
	}

	s.logger.Info("Item transfer from user: %s, item: %d, to: %s", user.Login, item.ID, recipient)
	s.logger.Audit(utils.AuditEvent{Action: "transfer_send", Subject: user.Login, Success: true,
		Detail: fmt.Sprintf("item=%d to=%s", item.ID, recipient)})
	return fmt.Sprintf("%s/users/%s/%d", s.backendURL, transfer, item.ID), nil
}

// RedeemTransfer moves the item named by the transfer token to the caller
// and burns the token
func (s *AccountService) RedeemTransfer(ctx context.Context, caller auth.Identity, transferToken string, itemID int64) error {
	claims, err := s.gate.VerifyTransfer(ctx, caller, transferToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrRevokedToken) ||
			errors.Is(err, auth.ErrForbidden) || errors.Is(err, auth.ErrMissingToken) {
			return fmt.Errorf("%w: transfer token rejected: %v", ErrForbidden, err)
		}
		return err
	}

	refItem, senderID, ok := parseTransferRef(claims.Ref)
	if !ok || refItem != itemID {
		return fmt.Errorf("%w: transfer token does not cover item %d", ErrForbidden, itemID)
	}

	recipient, err := s.caller(ctx, caller)
	if err != nil {
		return err
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			return fmt.Errorf("%w: item %d", ErrNotFound, itemID)
		}
		return err
	}
	if item.UserID != senderID {
		return fmt.Errorf("%w: item %d changed owner since the transfer was issued", ErrForbidden, itemID)
	}

	if err := s.items.Transfer(ctx, item.ID, senderID, recipient.ID); err != nil {
		switch {
		case errors.Is(err, models.ErrOwnerChanged):
			return fmt.Errorf("%w: item %d changed owner since the transfer was issued", ErrForbidden, itemID)
		case errors.Is(err, models.ErrItemNotFound):
			return fmt.Errorf("%w: item %d", ErrNotFound, itemID)
		}
		return err
	}
	if err := s.gate.Revoke(ctx, transferToken, claims.Expiry()); err != nil {
		// Ownership already moved and the sender no longer owns the item,
		// so a replay fails the owner check above.
		s.logger.Warn("Failed to revoke redeemed transfer token for item %d: %v", item.ID, err)
	} else {
		metrics.RecordRevocation("transfer")
	}

	s.logger.Info("Get item transfer, item: %d, user: %s", item.ID, recipient.Login)
	s.logger.Audit(utils.AuditEvent{Action: "transfer_redeem", Subject: recipient.Login, Success: true,
		Detail: fmt.Sprintf("item=%d from_user_id=%d", item.ID, senderID)})
	return nil
}

// caller loads the user behind an identity
func (s *AccountService) caller(ctx context.Context, id auth.Identity) (*models.User, error) {
	user, err := s.users.GetByLogin(ctx, id.Subject)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %q", ErrNotFound, id.Subject)
		}
		return nil, err
	}
	return user, nil
}

// ownedItem loads the caller and an item, failing unless the caller owns it
func (s *AccountService) ownedItem(ctx context.Context, owner auth.Identity, itemID int64) (*models.User, *models.Item, error) {
	user, err := s.caller(ctx, owner)
	if err != nil {
		return nil, nil, err
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			return nil, nil, fmt.Errorf("%w: item %d", ErrNotFound, itemID)
		}
		return nil, nil, err
	}
	if item.UserID != user.ID {
		return nil, nil, fmt.Errorf("%w: Cant find item id: %d", ErrForbidden, itemID)
	}
	return user, item, nil
}

func transferRef(itemID, senderID int64) string {
	return strconv.FormatInt(itemID, 10) + ":" + strconv.FormatInt(senderID, 10)
}

func parseTransferRef(ref string) (itemID, senderID int64, ok bool) {
	item, sender, found := strings.Cut(ref, ":")
	if !found {
		return 0, 0, false
	}
	itemID, err := strconv.ParseInt(item, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	senderID, err = strconv.ParseInt(sender, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return itemID, senderID, true
}

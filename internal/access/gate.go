/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package access

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const minPasswordLength = 6

// Gate resolves callers and enforces role, partnership and QR visibility rules.
type Gate struct {
	store      store.RecordStore
	tokens     *TokenIssuer
	bcryptCost int
}

func NewGate(recordStore store.RecordStore, tokens *TokenIssuer, bcryptCost int) *Gate {
	return &Gate{store: recordStore, tokens: tokens, bcryptCost: bcryptCost}
}

// RegisterParams contains the fields a new user supplies.
type RegisterParams struct {
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Password      string      `json:"password"`
	WalletAddress string      `json:"walletAddress"`
	Role          models.Role `json:"role"`
	CompanyName   string      `json:"companyName"`
}

func (p RegisterParams) validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return apperr.New(apperr.KindValidation, "name is required")
	case !emailRegex.MatchString(strings.TrimSpace(p.Email)):
		return apperr.New(apperr.KindValidation, "invalid email format: %s", p.Email)
	case len(p.Password) < minPasswordLength:
		return apperr.New(apperr.KindValidation, "password must be at least %d characters", minPasswordLength)
	case !common.IsHexAddress(p.WalletAddress):
		return apperr.New(apperr.KindValidation, "invalid wallet address: %s", p.WalletAddress)
	case !p.Role.Valid():
		return apperr.New(apperr.KindValidation, "invalid role: %s", p.Role)
	}
	return nil
}

// Register creates a user and returns it with a fresh token.
func (g *Gate) Register(ctx context.Context, params RegisterParams) (*models.User, string, error) {
	if err := params.validate(); err != nil {
		return nil, "", err
	}

	hash, err := hashPassword(params.Password, g.bcryptCost)
	if err != nil {
		return nil, "", err
	}

	user, err := g.store.CreateUser(ctx, store.CreateUserParams{
		Name:          strings.TrimSpace(params.Name),
		Email:         params.Email,
		PasswordHash:  hash,
		WalletAddress: params.WalletAddress,
		Role:          params.Role,
		CompanyName:   strings.TrimSpace(params.CompanyName),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			return nil, "", apperr.New(apperr.KindConflict, "User already exists")
		case errors.Is(err, store.ErrDuplicateWallet):
			return nil, "", apperr.New(apperr.KindConflict, "Wallet address already registered")
		}
		return nil, "", err
	}

	token, err := g.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}

	zap.L().Info("User registered",
		zap.String("user_id", user.Id),
		zap.String("role", string(user.Role)))
	return user, token, nil
}

func (g *Gate) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := g.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, "", apperr.New(apperr.KindAuthentication, "Invalid credentials")
		}
		return nil, "", err
	}
	if !checkPassword(user.PasswordHash, password) {
		return nil, "", apperr.New(apperr.KindAuthentication, "Invalid credentials")
	}

	token, err := g.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to a registered user.
func (g *Gate) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindAuthentication, "No token provided")
	}

	claims, err := g.tokens.Parse(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, err, "Invalid token")
	}

	user, err := g.store.GetUserById(ctx, claims.UserId)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, apperr.New(apperr.KindAuthentication, "User no longer exists")
		}
		return nil, err
	}
	return user, nil
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(user *models.User, roles ...models.Role) error {
	if user == nil {
		return apperr.New(apperr.KindAuthentication, "authentication required")
	}
	for _, role := range roles {
		if user.Role == role {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return apperr.New(apperr.KindAuthorization, "Only %s can perform this action", strings.Join(names, ", "))
}

// SameWallet compares wallet addresses case-insensitively.
func SameWallet(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ResolveRecipient looks a registered user up by wallet; it returns nil
// without error when the wallet is not registered.
func (g *Gate) ResolveRecipient(ctx context.Context, walletAddress string) (*models.User, error) {
	user, err := g.store.GetUserByWallet(ctx, walletAddress)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CheckTransferPartnership requires an accepted partnership, in either
// direction, between the sender and the registered owner of recipientWallet.
func (g *Gate) CheckTransferPartnership(ctx context.Context, sender *models.User, recipientWallet string) (*models.User, error) {
	recipient, err := g.ResolveRecipient(ctx, recipientWallet)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, apperr.New(apperr.KindAuthorization, "Receiver not found in system")
	}

	accepted, err := g.store.HasAcceptedPartnership(ctx, sender.Id, recipient.Id)
	if err != nil {
		return nil, err
	}
	if !accepted {
		zap.L().Info("Transfer blocked by missing partnership",
			zap.String("sender_id", sender.Id),
			zap.String("recipient_id", recipient.Id))
		return recipient, apperr.New(apperr.KindAuthorization, "Partnership required. Request partnership first.")
	}
	return recipient, nil
}

// CanViewQR reports whether user may see the product's QR code.
func CanViewQR(user *models.User, product *models.Product) bool {
	if user == nil || product == nil {
		return false
	}
	if product.ManufacturerId == user.Id {
		return true
	}
	if !product.QrVisible {
		return false
	}
	for _, id := range product.QrAccessGrantedTo {
		if id == user.Id {
			return true
		}
	}
	return false
}

// summaries loads public projections for the given user ids.
func (g *Gate) summaries(ctx context.Context, ids ...string) (map[string]*models.UserSummary, error) {
	users, err := g.store.GetUsersByIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.UserSummary, len(users))
	for id, user := range users {
		out[id] = user.Summary()
	}
	return out, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"propleads/internal/common"
	"propleads/internal/common/security"
	"propleads/internal/domain/model"
	"propleads/internal/domain/repository"

	"github.com/google/uuid"
)

type AuthService struct {
	operatorRepo repository.OperatorRepository
}

func NewAuthService(operatorRepo repository.OperatorRepository) *AuthService {
	return &AuthService{operatorRepo: operatorRepo}
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	LoginField string `json:"login_field"` // Can be username or email
	Password   string `json:"password"`
}

type AuthResponse struct {
	Operator *model.Operator `json:"operator"`
	Token    string          `json:"token"`
}

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	operator := &model.Operator{
		ID:             uuid.NewString(),
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashedPassword,
		Role:           model.RoleOperator, // Default role
	}

	if err := s.operatorRepo.Create(ctx, operator); err != nil {
		// Repo might return common.ErrConflict
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	token, err := security.GenerateToken(operator.ID, operator.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	operator.HashedPassword = "" // Clear password before returning
	return &AuthResponse{Operator: operator, Token: token}, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.LoginField == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	var operator *model.Operator
	var err error

	// Try finding by email first, then by username
	operator, err = s.operatorRepo.FindByEmail(ctx, req.LoginField)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			operator, err = s.operatorRepo.FindByUsername(ctx, req.LoginField)
		}
	}

	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized // Generic message for security
		}
		return nil, fmt.Errorf("failed to find operator: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, operator.HashedPassword) {
		return nil, common.ErrUnauthorized
	}

	token, err := security.GenerateToken(operator.ID, operator.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	operator.HashedPassword = ""
	return &AuthResponse{Operator: operator, Token: token}, nil
}

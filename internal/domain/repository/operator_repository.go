package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"propleads/internal/common"
	"propleads/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type OperatorRepository interface {
	Create(ctx context.Context, operator *model.Operator) error
	FindByEmail(ctx context.Context, email string) (*model.Operator, error)
	FindByUsername(ctx context.Context, username string) (*model.Operator, error)
	FindByID(ctx context.Context, id string) (*model.Operator, error)
}

type pgOperatorRepository struct {
	db *sql.DB
}

func NewPgOperatorRepository(db *sql.DB) OperatorRepository {
	return &pgOperatorRepository{db: db}
}

func (r *pgOperatorRepository) Create(ctx context.Context, operator *model.Operator) error {
	query := `INSERT INTO operators (id, username, email, hashed_password, role)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, operator.ID, operator.Username, operator.Email,
		operator.HashedPassword, operator.Role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint violation
			return fmt.Errorf("operator with given username or email already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgOperatorRepository.Create: %w", err)
	}
	return nil
}

func (r *pgOperatorRepository) findOne(ctx context.Context, where, arg string) (*model.Operator, error) {
	query := `SELECT id, username, email, hashed_password, role, created_at, updated_at
	          FROM operators WHERE ` + where + ` = $1`
	operator := &model.Operator{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&operator.ID, &operator.Username, &operator.Email, &operator.HashedPassword,
		&operator.Role, &operator.CreatedAt, &operator.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgOperatorRepository.findOne(%s): %w", where, err)
	}
	return operator, nil
}

func (r *pgOperatorRepository) FindByEmail(ctx context.Context, email string) (*model.Operator, error) {
	return r.findOne(ctx, "email", email)
}

func (r *pgOperatorRepository) FindByUsername(ctx context.Context, username string) (*model.Operator, error) {
	return r.findOne(ctx, "username", username)
}

func (r *pgOperatorRepository) FindByID(ctx context.Context, id string) (*model.Operator, error) {
	return r.findOne(ctx, "id", id)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/privacykit/shortlink/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDuplicateCode signals that the short code is already taken. The
	// unique constraint on short_code is the authoritative collision guard;
	// the generator's pre-check is only advisory.
	ErrDuplicateCode = errors.New("short code already exists")
)

// ClickResult reports the outcome of a conditional click registration.
type ClickResult struct {
	// Applied is false when the row lost the race: it was already inactive
	// or at its click limit by the time the update ran.
	Applied bool
	// ClickCount is the post-increment count when Applied.
	ClickCount int
	// Active is false when this click was the one that reached the limit.
	Active bool
}

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByCode(ctx context.Context, code string) (*model.Link, error)
	Deactivate(ctx context.Context, id int64) error
	RegisterClick(ctx context.Context, id int64) (ClickResult, error)
	ListCodes(ctx context.Context) ([]string, error)
}

type linkRepository struct {
	db   *gorm.DB
	pool *pgxpool.Pool
}

// NewLinkRepository returns a Postgres-backed LinkRepository. GORM serves the
// create/lookup paths; the pgx pool serves the hot-path conditional update.
func NewLinkRepository(db *gorm.DB, pool *pgxpool.Pool) LinkRepository {
	return &linkRepository{db: db, pool: pool}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (r *linkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("load link: %w", err)
	}
	return &link, nil
}

// Deactivate latches the link off. Deactivating an already-inactive link is
// a no-op, not an error.
func (r *linkRepository) Deactivate(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", id).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate link: %w", err)
	}
	return nil
}

// RegisterClick increments the click counter and flips the active latch in
// one statement. The WHERE clause rejects rows that are inactive or already
// at their limit, so concurrent resolves are linearized by the database:
// each winner sees a distinct count and exactly max_clicks of them win.
func (r *linkRepository) RegisterClick(ctx context.Context, id int64) (ClickResult, error) {
	const q = `
		UPDATE links
		SET click_count = click_count + 1,
		    active = (max_clicks IS NULL OR click_count + 1 < max_clicks)
		WHERE id = $1
		  AND active
		  AND (max_clicks IS NULL OR click_count < max_clicks)
		RETURNING click_count, active`

	var res ClickResult
	err := r.pool.QueryRow(ctx, q, id).Scan(&res.ClickCount, &res.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClickResult{Applied: false}, nil
		}
		return ClickResult{}, fmt.Errorf("register click: %w", err)
	}
	res.Applied = true
	return res, nil
}

func (r *linkRepository) ListCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Pluck("short_code", &codes).Error; err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	return codes, nil
}

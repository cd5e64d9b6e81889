package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/privacykit/shortlink/internal/app/model"
	"github.com/privacykit/shortlink/internal/app/repository"
	metrics "github.com/privacykit/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ErrValidation signals bad caller input on create.
var ErrValidation = errors.New("original_url is required")

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error)
	ResolveLink(ctx context.Context, code string) (*Resolution, error)
	GetLink(ctx context.Context, code string) (*model.Link, error)
}

// CreateLinkInput captures data required to create a link. ExpiryHours <= 0
// means no time expiry; MaxClicks <= 0 means no click limit.
type CreateLinkInput struct {
	OriginalURL string
	ExpiryHours float64
	MaxClicks   int
}

// Denial is the structured, non-exceptional outcome of a refused resolve.
type Denial struct {
	Reason    DenialReason
	ExpiresAt *time.Time
	MaxClicks *int
}

// Resolution is the outcome of a resolve attempt: either a redirect target
// or a denial. Denials are data, not errors; only missing codes and storage
// failures surface as errors.
type Resolution struct {
	TargetURL string
	Denial    *Denial
}

// Allowed reports whether the resolve may redirect.
func (r *Resolution) Allowed() bool { return r.Denial == nil }

// Deps bundles the collaborators of the link service. Filter, Gone and
// Events are optional; the service degrades to plain store access without
// them.
type Deps struct {
	Repo      repository.LinkRepository
	Generator *CodeGenerator
	Filter    *CodeFilter
	Gone      *GoneCache
	Events    *EventPublisher
	Logger    *zap.Logger
}

type linkService struct {
	repo      repository.LinkRepository
	generator *CodeGenerator
	filter    *CodeFilter
	gone      *GoneCache
	events    *EventPublisher
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewLinkService returns a service implementation backed by the given deps.
func NewLinkService(deps Deps) LinkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &linkService{
		repo:      deps.Repo,
		generator: deps.Generator,
		filter:    deps.Filter,
		gone:      deps.Gone,
		events:    deps.Events,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

func (s *linkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	if strings.TrimSpace(input.OriginalURL) == "" {
		return nil, ErrValidation
	}

	now := s.nowFunc()

	var expiresAt *time.Time
	if input.ExpiryHours > 0 {
		t := now.Add(time.Duration(input.ExpiryHours * float64(time.Hour)))
		expiresAt = &t
	}

	var maxClicks *int
	if input.MaxClicks > 0 {
		mc := input.MaxClicks
		maxClicks = &mc
	}

	// The generator's uniqueness check races with concurrent creates; the
	// store's constraint is authoritative, so one regeneration retry.
	for attempt := 0; attempt < 2; attempt++ {
		code, err := s.generator.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("create link: %w", err)
		}

		link := &model.Link{
			OriginalURL: input.OriginalURL,
			ShortCode:   code,
			MaxClicks:   maxClicks,
			ClickCount:  0,
			ExpiresAt:   expiresAt,
			Active:      true,
			CreatedAt:   now,
		}

		err = s.repo.Create(ctx, link)
		if err == nil {
			if s.filter != nil {
				s.filter.Add(code)
			}
			metrics.LinksCreated.Inc()
			return link, nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return nil, fmt.Errorf("create link: %w", err)
		}
		s.logger.Warn("short code collided on insert, regenerating", zap.String("code", code))
	}

	return nil, fmt.Errorf("create link: %w", ErrCodeGeneration)
}

func (s *linkService) ResolveLink(ctx context.Context, code string) (*Resolution, error) {
	if s.gone != nil {
		d, err := s.gone.Get(ctx, code)
		if err != nil {
			// Fail open to the store.
			s.logger.Warn("gone-cache lookup failed", zap.String("code", code), zap.Error(err))
		} else if d != nil {
			metrics.Denials.WithLabelValues(string(d.Reason)).Inc()
			return &Resolution{Denial: d}, nil
		}
	}

	// The code filter only tracks codes this replica has seen; another
	// replica may have issued the code since the last rebuild, so a filter
	// miss never short-circuits a lookup.
	for attempt := 0; ; attempt++ {
		link, err := s.repo.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}

		decision := Evaluate(link, s.nowFunc())
		if !decision.Allow {
			return s.deny(ctx, link, decision)
		}

		res, err := s.repo.RegisterClick(ctx, link.ID)
		if err != nil {
			return nil, err
		}
		if res.Applied {
			if !res.Active {
				// This click spent the budget; the link is terminal now.
				s.markGone(ctx, link.ShortCode, Denial{
					Reason:    ReasonClickLimit,
					MaxClicks: link.MaxClicks,
				})
			}
			metrics.RedirectsServed.Inc()
			return &Resolution{TargetURL: link.OriginalURL}, nil
		}

		// Lost the race: a concurrent resolve latched the link or took the
		// last click between our read and the update. A re-read must observe
		// the terminal state, so a second miss means the store is broken.
		if attempt == 1 {
			return nil, fmt.Errorf("resolve link: conditional update made no progress for %q", code)
		}
	}
}

func (s *linkService) GetLink(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *linkService) deny(ctx context.Context, link *model.Link, decision Decision) (*Resolution, error) {
	denial := &Denial{Reason: decision.Reason}
	switch decision.Reason {
	case ReasonExpired:
		denial.ExpiresAt = link.ExpiresAt
	case ReasonClickLimit:
		denial.MaxClicks = link.MaxClicks
	}

	if decision.Deactivate {
		// Idempotent latch; a storage failure here is fatal, never swallowed.
		if err := s.repo.Deactivate(ctx, link.ID); err != nil {
			return nil, err
		}
	}

	// All deny paths leave the link terminal, so tombstone regardless.
	s.markGone(ctx, link.ShortCode, *denial)

	metrics.Denials.WithLabelValues(string(denial.Reason)).Inc()
	return &Resolution{Denial: denial}, nil
}

// markGone records a terminal code in the gone-cache and announces it to
// other replicas. Both are best effort: the store already holds the truth.
func (s *linkService) markGone(ctx context.Context, code string, d Denial) {
	if s.gone != nil {
		if err := s.gone.Set(ctx, code, d); err != nil {
			s.logger.Warn("failed to tombstone code", zap.String("code", code), zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.PublishDeactivated(code, d); err != nil {
			s.logger.Warn("failed to publish deactivation event", zap.String("code", code), zap.Error(err))
		}
	}
}

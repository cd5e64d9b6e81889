package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/privacykit/shortlink/config"
	"github.com/privacykit/shortlink/internal/app/repository"
	metrics "github.com/privacykit/shortlink/internal/infra/prometheus"
)

// ErrCodeGeneration signals that even the timestamp fallback collided. This
// points at a misconfigured (too short) code space, not a transient failure,
// so it is not retried automatically.
var ErrCodeGeneration = errors.New("failed to generate unique short code")

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var codeAlphabetSize = big.NewInt(int64(len(codeAlphabet)))

// CodeGenerator produces random short codes and pre-checks them for
// uniqueness. The pre-check is best effort: the store's unique constraint
// remains the authoritative guard.
type CodeGenerator struct {
	repo        repository.LinkRepository
	filter      *CodeFilter
	length      int
	maxAttempts int
	nowFunc     func() time.Time
}

// NewCodeGenerator builds a generator from the shortener config section.
func NewCodeGenerator(repo repository.LinkRepository, filter *CodeFilter, cfg config.ShortenerConfig) *CodeGenerator {
	length := cfg.CodeLength
	if length <= 0 {
		length = 6
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &CodeGenerator{
		repo:        repo,
		filter:      filter,
		length:      length,
		maxAttempts: maxAttempts,
		nowFunc:     time.Now,
	}
}

// Generate returns a code absent from the store at check time. After
// maxAttempts busy draws it falls back to a hybrid code: a 2-char random
// prefix plus the low-order base-36 digits of the current timestamp,
// re-checked once.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.maxAttempts; i++ {
		code, err := randomCode(g.length)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if g.filter != nil && !g.filter.MayExist(code) {
			// Definite miss in the filter, no need to ask the store.
			return code, nil
		}
		taken, err := g.codeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	metrics.CodegenFallbacks.Inc()

	prefix, err := randomCode(2)
	if err != nil {
		return "", fmt.Errorf("generate fallback code: %w", err)
	}
	ts := strconv.FormatInt(g.nowFunc().UnixMilli(), 36)
	if len(ts) > 4 {
		ts = ts[len(ts)-4:]
	}
	code := prefix + ts

	taken, err := g.codeTaken(ctx, code)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrCodeGeneration
	}
	return code, nil
}

func (g *CodeGenerator) codeTaken(ctx context.Context, code string) (bool, error) {
	_, err := g.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check code %q: %w", code, err)
	}
	return true, nil
}

// randomCode draws n uniform characters from the code alphabet using
// crypto/rand.
func randomCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, codeAlphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

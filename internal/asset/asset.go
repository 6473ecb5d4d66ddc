// Package asset looks up uploaded media and hands out short lived URLs for it.
package asset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collaborative-page-builder/internal/domain"
	"collaborative-page-builder/redis"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// expiryMargin keeps a cached URL from being handed out right before it expires.
const expiryMargin = 30 * time.Second

var ErrNoStore = errors.New("asset store not configured")

// Presigner issues time limited GET URLs for stored objects.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type MinioPresigner struct {
	client *minio.Client
	bucket string
}

// NewMinioPresigner builds an S3 compatible presigner. With the region set
// presigning is local and never calls the store.
func NewMinioPresigner(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*MinioPresigner, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("asset store client: %w", err)
	}
	return &MinioPresigner{client: client, bucket: bucket}, nil
}

func (p *MinioPresigner) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

type Repository interface {
	FindByID(ctx context.Context, id uint64) (*domain.Asset, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) FindByID(ctx context.Context, id uint64) (*domain.Asset, error) {
	var a domain.Asset
	if err := r.db.WithContext(ctx).Take(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

type cachedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Resolver answers asset kind and URL questions for the component service.
type Resolver struct {
	repository Repository
	presigner  Presigner
	cache      *redis.Cache
	ttl        time.Duration
	now        func() time.Time
}

// NewResolver builds a resolver. A nil presigner makes ResolveURL fail with
// ErrNoStore.
func NewResolver(repository Repository, presigner Presigner, cache *redis.Cache, ttl time.Duration) *Resolver {
	if ttl <= expiryMargin {
		ttl = time.Hour
	}
	return &Resolver{
		repository: repository,
		presigner:  presigner,
		cache:      cache,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Lookup returns the asset row, used to check its declared kind and website.
func (r *Resolver) Lookup(ctx context.Context, assetID uint64) (*domain.Asset, error) {
	return r.repository.FindByID(ctx, assetID)
}

func cacheKey(assetID uint64) string {
	return fmt.Sprintf("asset:%d:url", assetID)
}

// ResolveURL returns a URL the browser can load the asset from. A cached URL
// is reused until shortly before its recorded expiry.
func (r *Resolver) ResolveURL(ctx context.Context, assetID uint64) (string, error) {
	key := cacheKey(assetID)
	var cached cachedURL
	if found, err := r.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Uint64("asset_id", assetID).Msg("asset url cache read failed")
	} else if found && r.now().Before(cached.ExpiresAt.Add(-expiryMargin)) {
		return cached.URL, nil
	}

	if r.presigner == nil {
		return "", ErrNoStore
	}
	a, err := r.repository.FindByID(ctx, assetID)
	if err != nil {
		return "", fmt.Errorf("asset %d: %w", assetID, err)
	}
	issuedAt := r.now()
	url, err := r.presigner.PresignGet(ctx, a.StorageKey, r.ttl)
	if err != nil {
		return "", err
	}

	entry := cachedURL{URL: url, ExpiresAt: issuedAt.Add(r.ttl)}
	_ = r.cache.Set(ctx, key, entry, r.ttl-expiryMargin)
	return url, nil
}

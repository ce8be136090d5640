package common

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"resv/src/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// PartnerDirectory resolves API keys to partners. Inactive partners resolve
// as not found.
type PartnerDirectory interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*models.Partner, error)
}

type GormPartnerDirectory struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewGormPartnerDirectory(db *gorm.DB, rdb *redis.Client) *GormPartnerDirectory {
	return &GormPartnerDirectory{db: db, rdb: rdb}
}

// cacheKey reuses the at-rest hash so raw credentials never land in redis.
func cacheKey(keyHash string) string {
	return fmt.Sprintf("partners:key:%s", keyHash)
}

func (d *GormPartnerDirectory) FindByAPIKey(ctx context.Context, apiKey string) (*models.Partner, error) {
	keyHash := models.HashAPIKey(apiKey)
	if d.rdb != nil {
		if raw, err := d.rdb.Get(ctx, cacheKey(keyHash)).Result(); err == nil {
			var p models.Partner
			if err := json.Unmarshal([]byte(raw), &p); err == nil && p.Active {
				return &p, nil
			}
		}
	}
	var p models.Partner
	err := d.db.WithContext(ctx).
		First(&p, "api_key_hash = ? AND active = ?", keyHash, true).Error
	if err != nil {
		return nil, err
	}
	if d.rdb != nil {
		if raw, err := json.Marshal(&p); err == nil {
			if err := d.rdb.Set(ctx, cacheKey(keyHash), raw, 5*time.Minute).Err(); err != nil {
				log.Printf("[partners] cache write failed: %s\n", err.Error())
			}
		}
	}
	return &p, nil
}

// hash_cache.go — кэш bcrypt-хэшей паролей, заполняемый при загрузке
// пользователя каталогом. Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша хэшей.
var (
	credentialCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_credential_cache_hits_total",
		Help: "Количество попаданий в кэш хэшей паролей.",
	})
	credentialCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_credential_cache_misses_total",
		Help: "Количество промахов кэша хэшей паролей.",
	})
)

// HashCache — кэш хэшей по составному id пользователя.
// Пустой хэш не кэшируется: отсутствие пароля всегда читается из хранилища.
type HashCache struct {
	cache *expirable.LRU[string, string]
}

// NewHashCache создаёт кэш на size записей со временем жизни ttl.
func NewHashCache(size int, ttl time.Duration) *HashCache {
	return &HashCache{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Get возвращает хэш пользователя и обновляет метрики hit/miss.
func (c *HashCache) Get(userID string) (string, bool) {
	hash, ok := c.cache.Get(userID)
	if ok {
		credentialCacheHits.Inc()
		return hash, true
	}
	credentialCacheMisses.Inc()
	return "", false
}

func (c *HashCache) Put(userID, hash string) {
	if hash == "" {
		return
	}
	c.cache.Add(userID, hash)
}

// Evict удаляет запись (смена или отключение пароля).
func (c *HashCache) Evict(userID string) {
	c.cache.Remove(userID)
}

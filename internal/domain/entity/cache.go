package entity

import (
	"strings"
	"time"
)

// CacheNamespace prefixa todas as chaves de relatório.
const CacheNamespace = "report:"

// CacheEntry é um payload armazenado com TTL.
type CacheEntry struct {
	Key        string
	Payload    []byte
	StoredAt   time.Time
	TTLMinutes int
}

// ExpiresAt retorna o instante em que a entrada deixa de ser válida.
func (e CacheEntry) ExpiresAt() time.Time {
	return e.StoredAt.Add(time.Duration(e.TTLMinutes) * time.Minute)
}

// Expired reports whether the entry is stale at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// CacheKey monta a chave determinística de um relatório.
func CacheKey(accountID string, reportType string, groupBy Dimension, tagKey string) string {
	tag := "-"
	if tagKey != "" {
		tag = keyEscaper.Replace(tagKey)
	}
	return AccountCachePrefix(accountID) +
		keyEscaper.Replace(reportType) + ":" +
		strings.ToLower(string(groupBy)) + ":" +
		tag
}

// AccountCachePrefix é o prefixo de todas as chaves de uma conta ou grupo.
func AccountCachePrefix(accountID string) string {
	return CacheNamespace + keyEscaper.Replace(accountID) + ":"
}

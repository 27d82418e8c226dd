package ioc

import (
	"time"

	ca "github.com/patrickmn/go-cache"
)

const (
	defaultLocalExpiration = 5 * time.Minute
	defaultLocalCleanup    = 10 * time.Minute
)

func InitGoCache() *ca.Cache {
	return ca.New(defaultLocalExpiration, defaultLocalCleanup)
}

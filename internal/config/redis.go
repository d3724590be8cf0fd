package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from REDIS_ADDR, or REDIS_HOST plus
// REDIS_PORT, with REDIS_PASSWORD, REDIS_DB and REDIS_TLS. It returns nil
// when no Redis is configured or the server does not answer a ping; callers
// then fall back to in-process state.
func NewRedisClient() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if addr == "" && host != "" {
		if port == "" {
			port = "6379"
		}
		addr = host + ":" + port
	}
	if addr == "" {
		return nil
	}

	var tlsConf *tls.Config
	if readBool("REDIS_TLS", false) {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        readInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

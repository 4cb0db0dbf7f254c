package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// InitRedis connects the optional redis client behind the route cache, the
// boarding scan guard and the token revocation check. All three degrade
// gracefully, so an unreachable redis downgrades the app instead of killing it.
func InitRedis() *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] Connection failed, caching and scan guard disabled: %v", err)
		return nil
	}

	log.Println("[REDIS] Connection established")
	return rdb
}
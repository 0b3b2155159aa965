// 文件: pkg/oracle/redis_oracle.go
// Redis 价格预言机
//
// 外部喂价服务把最新报价写入 Redis:
//   oracle:price:{asset} → {"price":..., "timestamp":...}
// 本实现只读该 Key，过期与否由调用方用 CheckFresh 判断

package oracle

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const priceKeyPrefix = "oracle:price:"

// RedisOracle Redis 实现
type RedisOracle struct {
	client *redis.Client
}

var _ Oracle = (*RedisOracle)(nil)

func NewRedisOracle(client *redis.Client) *RedisOracle {
	return &RedisOracle{client: client}
}

// GetPrice 读取最新报价
func (o *RedisOracle) GetPrice(ctx context.Context, asset string) (Quote, error) {
	data, err := o.client.Get(ctx, priceKeyPrefix+asset).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, ErrPriceNotFound
	}
	if err != nil {
		return Quote{}, err
	}

	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return Quote{}, err
	}
	if q.Price <= 0 {
		return Quote{}, ErrPriceNotFound
	}
	return q, nil
}
